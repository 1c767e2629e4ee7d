package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeTempFile(t, "gateway:\n  url: ws://127.0.0.1:18789\n")

	changes := make(chan *CompanionConfig, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(path, 20*time.Millisecond, logger, func(c *CompanionConfig) { changes <- c })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Invalid content is rejected without a callback.
	if err := os.WriteFile(path, []byte("gateway:\n  url: ftp://nope\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case c := <-changes:
		t.Fatalf("callback for invalid config: %+v", c.Gateway)
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("gateway:\n  url: ws://10.0.0.2:18789\n  token: abc\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case c := <-changes:
		if c.Gateway.URL != "ws://10.0.0.2:18789" || c.Gateway.Token != "abc" {
			t.Errorf("reloaded gateway = %+v", c.Gateway)
		}
		if c.Client.ID != DefaultClientID {
			t.Errorf("reloaded config missing defaults: client.id = %q", c.Client.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeTempFile(t, "gateway:\n  url: ws://127.0.0.1:18789\n")

	changes := make(chan *CompanionConfig, 1)
	w, err := NewWatcher(path, 10*time.Millisecond, nil, func(c *CompanionConfig) { changes <- c })
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path+".bak", []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-changes:
		t.Error("callback for unrelated file")
	case <-time.After(150 * time.Millisecond):
	}
}
