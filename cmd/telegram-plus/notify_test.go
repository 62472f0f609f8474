package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/deexno/checkmk-telegram-plus/internal/notify"
	"github.com/deexno/checkmk-telegram-plus/internal/queue"
	"github.com/deexno/checkmk-telegram-plus/internal/settings"
)

func TestNotifyCommandAppendsRecord(t *testing.T) {
	dir := t.TempDir()
	viper.Set("queue.path", filepath.Join(dir, "queue.txt"))
	viper.Set("queue.lock_dir", dir)
	t.Cleanup(viper.Reset)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"notify",
		"--channel", "silent",
		"--host", "web01",
		"--hostgroup", "production",
		"--service", "CPU load",
		"--from-state", "OK",
		"--to-state", "CRIT",
		"--output", "CRITICAL - load average: 14.02",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("notify command error = %v", err)
	}
	id := strings.TrimSpace(out.String())
	if id == "" {
		t.Fatal("notify command printed no record id")
	}

	store, err := queue.NewStore(queue.Options{
		Path:     filepath.Join(dir, "queue.txt"),
		LockRoot: dir,
	})
	if err != nil {
		t.Fatalf("queue.NewStore() error = %v", err)
	}
	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("queue has %d records, want 1", len(records))
	}
	if records[0].ID != id {
		t.Fatalf("record id = %q, printed id = %q", records[0].ID, id)
	}

	event, err := notify.DecodeEvent(records[0].Event)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if event.Channel != settings.ChannelSilent || event.Host != "web01" || event.NewState != "CRIT" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestNotifyCommandRequiresHost(t *testing.T) {
	dir := t.TempDir()
	viper.Set("queue.path", filepath.Join(dir, "queue.txt"))
	viper.Set("queue.lock_dir", dir)
	t.Cleanup(viper.Reset)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"notify", "--to-state", "CRIT"})
	if err := root.Execute(); err == nil {
		t.Fatal("notify without --host should fail")
	}
}
