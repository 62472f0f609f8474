package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deexno/checkmk-telegram-plus/internal/queue"
	"github.com/deexno/checkmk-telegram-plus/internal/settings"
	"github.com/deexno/checkmk-telegram-plus/internal/telegram"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []telegram.SendMessageRequest
	failure error
}

func (f *fakeTransport) SendMessage(_ context.Context, req telegram.SendMessageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return f.failure
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestStores(t *testing.T) (*queue.Store, *settings.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := queue.NewStore(queue.Options{
		Path:     filepath.Join(dir, "queue.txt"),
		LockRoot: dir,
	})
	if err != nil {
		t.Fatalf("queue.NewStore() error = %v", err)
	}
	repo, err := settings.NewStore(filepath.Join(dir, "settings.json"), dir)
	if err != nil {
		t.Fatalf("settings.NewStore() error = %v", err)
	}
	return store, repo
}

func newTestDispatcher(t *testing.T, store *queue.Store, repo *settings.Store, transport Transport) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Options{
		Store:     store,
		Settings:  repo,
		Transport: transport,
		Logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		SendDelay: -1,
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func loudEvent() Event {
	return Event{
		Channel:            settings.ChannelLoud,
		SourceIP:           "10.0.0.7",
		Host:               "web01",
		Hostgroup:          "production",
		ServiceDescription: "CPU load",
		PreviousState:      "OK",
		NewState:           "CRIT",
		CheckOutput:        "CRITICAL - load average: 14.02;13.80;12.91",
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	t.Parallel()

	want := loudEvent()
	payload, err := EncodeEvent(want)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	got, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if got != want {
		t.Fatalf("DecodeEvent() = %+v, want %+v", got, want)
	}
	if got.CheckOutput != "CRITICAL - load average: 14.02;13.80;12.91" {
		t.Fatalf("check output mangled: %q", got.CheckOutput)
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	t.Parallel()

	if _, err := DecodeEvent("too;few;fields"); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("DecodeEvent() error = %v, want ErrMalformedRecord", err)
	}
	if _, err := DecodeEvent("bad_channel;ip;host;group;svc;OK;CRIT;out"); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("DecodeEvent() with unknown channel error = %v, want ErrMalformedRecord", err)
	}
}

func TestEncodeEventRejectsSeparatorInFields(t *testing.T) {
	t.Parallel()

	e := loudEvent()
	e.Host = "web;01"
	if _, err := EncodeEvent(e); err == nil {
		t.Fatal("EncodeEvent() with ; in host should fail")
	}
}

func TestFormatMessageEscapesOutput(t *testing.T) {
	t.Parallel()

	e := loudEvent()
	e.CheckOutput = `CRIT <script>alert("x")</script>`
	msg := FormatMessage(e)

	if !strings.Contains(msg, "🛑 <u><b>web01</b></u>") {
		t.Fatalf("message missing headline: %q", msg)
	}
	if !strings.Contains(msg, "✅ OK → 🛑 CRIT") {
		t.Fatalf("message missing transition arrow: %q", msg)
	}
	if strings.Contains(msg, "<script>") {
		t.Fatalf("check output not escaped: %q", msg)
	}
	if !strings.Contains(msg, "IP: 10.0.0.7") || !strings.Contains(msg, "HOSTGROUP: production") {
		t.Fatalf("message missing details: %q", msg)
	}
}

func TestKeyboardByEventKind(t *testing.T) {
	t.Parallel()

	service := Keyboard(loudEvent())
	if len(service.InlineKeyboard) != 1 || len(service.InlineKeyboard[0]) != 3 {
		t.Fatalf("service keyboard = %+v, want 3 buttons", service.InlineKeyboard)
	}

	hostEvent := loudEvent()
	hostEvent.ServiceDescription = ""
	host := Keyboard(hostEvent)
	if len(host.InlineKeyboard) != 1 || len(host.InlineKeyboard[0]) != 1 {
		t.Fatalf("host keyboard = %+v, want only recheck", host.InlineKeyboard)
	}

	action, args := DecodeCallback(service.InlineKeyboard[0][1].CallbackData)
	if action != CallbackGraph {
		t.Fatalf("graph button action = %q", action)
	}
	if len(args) != 2 || args[0] != "CPU load" || args[1] != "web01" {
		t.Fatalf("graph button args = %v", args)
	}
}

func TestCallbackRoundTripKeepsCommasInArguments(t *testing.T) {
	t.Parallel()

	desc := "Filesystem /var, /tmp (50% used)"
	data := EncodeCallback(CallbackRecheck, desc, "web01", "0")

	action, args := DecodeCallback(data)
	if action != CallbackRecheck {
		t.Fatalf("action = %q", action)
	}
	if len(args) != 3 || args[0] != desc || args[1] != "web01" || args[2] != "0" {
		t.Fatalf("args = %v, want description back unchanged", args)
	}
}

func TestDrainOnceDeliversThenRemoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, repo := newTestStores(t)
	if err := repo.SetSubscription(ctx, 42, settings.ChannelLoud, true); err != nil {
		t.Fatalf("SetSubscription() error = %v", err)
	}

	payload, err := EncodeEvent(loudEvent())
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if _, err := store.Append(ctx, payload, 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	transport := &fakeTransport{}
	d := newTestDispatcher(t, store, repo, transport)
	if err := d.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(transport.sent))
	}
	if transport.sent[0].ChatID != 42 || transport.sent[0].ParseMode != "HTML" {
		t.Fatalf("unexpected send: %+v", transport.sent[0])
	}
	if transport.sent[0].DisableNotification {
		t.Fatal("loud notification must not be silent")
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("queue has %d records after delivery, want 0", len(records))
	}
}

func TestFailedDeliveryRetainsRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, repo := newTestStores(t)
	if err := repo.SetSubscription(ctx, 42, settings.ChannelLoud, true); err != nil {
		t.Fatalf("SetSubscription() error = %v", err)
	}
	payload, err := EncodeEvent(loudEvent())
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if _, err := store.Append(ctx, payload, 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	transport := &fakeTransport{failure: fmt.Errorf("telegram http 502")}
	d := newTestDispatcher(t, store, repo, transport)
	if err := d.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce() error = %v, delivery failures must not fail the cycle", err)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("queue has %d records after failed delivery, want 1", len(records))
	}

	// The next cycle redelivers once the transport recovers.
	transport.failure = nil
	if err := d.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages after recovery, want 1", len(transport.sent))
	}
	records, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("queue has %d records after redelivery, want 0", len(records))
	}
}

func TestMalformedRecordDroppedWithoutDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, repo := newTestStores(t)
	if err := repo.SetSubscription(ctx, 42, settings.ChannelLoud, true); err != nil {
		t.Fatalf("SetSubscription() error = %v", err)
	}
	if _, err := store.Append(ctx, "this is not a notification", 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	goodPayload, err := EncodeEvent(loudEvent())
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if _, err := store.Append(ctx, goodPayload, 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	transport := &fakeTransport{}
	d := newTestDispatcher(t, store, repo, transport)
	if err := d.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}

	// The poison record is dropped, the valid one still delivered.
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(transport.sent))
	}
	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("queue has %d records, want 0", len(records))
	}
}

func TestSilentChannelDisablesNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, repo := newTestStores(t)
	if err := repo.SetSubscription(ctx, 7, settings.ChannelSilent, true); err != nil {
		t.Fatalf("SetSubscription() error = %v", err)
	}

	e := loudEvent()
	e.Channel = settings.ChannelSilent
	transport := &fakeTransport{}
	d := newTestDispatcher(t, store, repo, transport)
	if err := d.Deliver(ctx, e); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(transport.sent))
	}
	if !transport.sent[0].DisableNotification {
		t.Fatal("silent notification must set disable_notification")
	}
}

func TestWatcherPurgesStaleAndDeliversNewFiles(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, repo := newTestStores(t)
	if err := repo.SetSubscription(ctx, 42, settings.ChannelLoud, true); err != nil {
		t.Fatalf("SetSubscription() error = %v", err)
	}
	transport := &fakeTransport{}
	d := newTestDispatcher(t, store, repo, transport)

	spool := filepath.Join(t.TempDir(), "spool")
	if err := os.MkdirAll(spool, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	stale := filepath.Join(spool, "stale")
	payload, err := EncodeEvent(loudEvent())
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if err := os.WriteFile(stale, []byte(payload), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w, err := NewWatcher(spool, d, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The stale file is purged without delivery.
	waitFor(t, func() bool {
		_, statErr := os.Stat(stale)
		return os.IsNotExist(statErr)
	})
	if n := transport.sentCount(); n != 0 {
		t.Fatalf("stale spool file was delivered: %d sends", n)
	}

	fresh := filepath.Join(spool, "fresh")
	if err := os.WriteFile(fresh, []byte(payload), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	waitFor(t, func() bool {
		_, statErr := os.Stat(fresh)
		return os.IsNotExist(statErr) && transport.sentCount() == 1
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestWatcherDeliversFileWrittenAfterCreate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, repo := newTestStores(t)
	if err := repo.SetSubscription(ctx, 42, settings.ChannelLoud, true); err != nil {
		t.Fatalf("SetSubscription() error = %v", err)
	}
	transport := &fakeTransport{}
	d, err := NewDispatcher(Options{
		Store:     store,
		Settings:  repo,
		Transport: transport,
		Logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		SendDelay: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	spool := t.TempDir()
	stale := filepath.Join(spool, "stale")
	if err := os.WriteFile(stale, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	w, err := NewWatcher(spool, d, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	waitFor(t, func() bool {
		_, statErr := os.Stat(stale)
		return os.IsNotExist(statErr)
	})

	// Producers commonly create the spool file and write the payload a
	// moment later. The file must not be read, judged empty and removed
	// before that write lands.
	path := filepath.Join(spool, "late")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	payload, err := EncodeEvent(loudEvent())
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if _, err := f.WriteString(payload); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	waitFor(t, func() bool {
		_, statErr := os.Stat(path)
		return os.IsNotExist(statErr) && transport.sentCount() == 1
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
