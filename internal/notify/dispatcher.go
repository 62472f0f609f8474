package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deexno/checkmk-telegram-plus/internal/queue"
	"github.com/deexno/checkmk-telegram-plus/internal/settings"
	"github.com/deexno/checkmk-telegram-plus/internal/telegram"
)

// Store is the queue surface the dispatcher drains.
type Store interface {
	List(ctx context.Context) ([]queue.Record, error)
	Remove(ctx context.Context, id string) error
}

// Recipients resolves the current notification subscriptions.
type Recipients interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Transport hands a finished message to the chat service.
type Transport interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) error
}

type Options struct {
	Store     Store
	Settings  Recipients
	Transport Transport
	Logger    *slog.Logger

	// PollInterval is the pause between drain cycles (default 1m).
	PollInterval time.Duration
	// SendDelay is how far in the future each record's delivery is
	// scheduled, batching near-simultaneous events (default 3s).
	SendDelay time.Duration
	// MaxStoreFailures bounds consecutive List failures before the
	// loop gives up (default 5).
	MaxStoreFailures int
}

// Dispatcher drains the notification queue with a schedule-then-remove
// discipline: a record is removed only after the transport accepted its
// delivery, so a crash mid-delivery causes redelivery, never loss.
type Dispatcher struct {
	store            Store
	settings         Recipients
	transport        Transport
	logger           *slog.Logger
	pollInterval     time.Duration
	sendDelay        time.Duration
	maxStoreFailures int
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("missing queue store")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("missing settings repository")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("missing transport")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	sendDelay := opts.SendDelay
	if sendDelay < 0 {
		sendDelay = 0
	} else if opts.SendDelay == 0 {
		sendDelay = 3 * time.Second
	}
	maxStoreFailures := opts.MaxStoreFailures
	if maxStoreFailures <= 0 {
		maxStoreFailures = 5
	}
	return &Dispatcher{
		store:            opts.Store,
		settings:         opts.Settings,
		transport:        opts.Transport,
		logger:           logger,
		pollInterval:     pollInterval,
		sendDelay:        sendDelay,
		maxStoreFailures: maxStoreFailures,
	}, nil
}

// Run polls the store until the context is cancelled. Per-record
// failures are logged and skipped; only a repeatedly failing store
// terminates the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := d.DrainOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			d.logger.Error("queue_drain_failed", "error", err.Error(), "consecutive_failures", failures)
			if failures >= d.maxStoreFailures {
				return fmt.Errorf("notification store failing repeatedly: %w", err)
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce runs a single drain cycle. It returns an error only when
// the store itself fails; delivery errors leave the record in place for
// the next cycle.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	records, err := d.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := d.deliverRecord(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("notification_delivery_failed", "record_id", rec.ID, "error", err.Error())
		}
	}
	return nil
}

func (d *Dispatcher) deliverRecord(ctx context.Context, rec queue.Record) error {
	event, err := DecodeEvent(rec.Event)
	if err != nil {
		// Poison record: drop it so it cannot block the queue.
		d.logger.Error("notification_record_dropped", "record_id", rec.ID, "error", err.Error())
		return d.store.Remove(ctx, rec.ID)
	}
	if err := d.waitSendDelay(ctx); err != nil {
		return err
	}
	if err := d.Deliver(ctx, event); err != nil {
		return err
	}
	return d.store.Remove(ctx, rec.ID)
}

func (d *Dispatcher) waitSendDelay(ctx context.Context) error {
	if d.sendDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.sendDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deliver sends the event to every subscriber of its channel. Silent
// channel messages are sent without a client-side alert. A failed send
// to any recipient fails the delivery so the record is retried.
func (d *Dispatcher) Deliver(ctx context.Context, e Event) error {
	snap, err := d.settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	recipients := snap.Recipients(e.Channel)
	if len(recipients) == 0 {
		d.logger.Info("notification_no_recipients", "channel", string(e.Channel), "host", e.Host)
		return nil
	}

	message := FormatMessage(e)
	keyboard := Keyboard(e)
	for _, chatID := range recipients {
		sendErr := d.transport.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID:              chatID,
			Text:                message,
			ParseMode:           "HTML",
			DisableNotification: e.Channel == settings.ChannelSilent,
			ReplyMarkup:         keyboard,
		})
		if sendErr != nil {
			return fmt.Errorf("send to chat %d: %w", chatID, sendErr)
		}
		d.logger.Info("notification_sent",
			"chat_id", chatID,
			"channel", string(e.Channel),
			"host", e.Host,
			"service", e.ServiceDescription)
	}
	return nil
}
