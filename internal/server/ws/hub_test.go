package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestHub() *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(nil, func() string { return "simulated" }, logger)
}

func TestDetachAfterShutdownDoesNotBlock(t *testing.T) {
	h := newTestHub()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	// A client whose read loop ends after the hub has stopped must still
	// be able to leave.
	c := &client{hub: h, send: make(chan []byte, 1)}
	detached := make(chan struct{})
	go func() {
		c.detach()
		close(detached)
	}()

	select {
	case <-detached:
	case <-time.After(2 * time.Second):
		t.Fatal("detach blocked after hub shutdown")
	}
}

func TestRunClosesClientSendChannels(t *testing.T) {
	h := newTestHub()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := h.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	}()

	c := &client{hub: h, send: make(chan []byte, 1)}
	h.register <- c
	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected send channel closed, got a message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
}

func TestBroadcastEnvelope(t *testing.T) {
	h := newTestHub()

	h.Broadcast(ChannelTrades, map[string]any{"market_slug": "btc-updown-15m"})

	select {
	case msg := <-h.broadcast:
		if msg.channel != ChannelTrades {
			t.Errorf("channel = %q, want %q", msg.channel, ChannelTrades)
		}
		var envelope struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(msg.data, &envelope); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if envelope.Type != ChannelTrades {
			t.Errorf("type = %q, want %q", envelope.Type, ChannelTrades)
		}
		if envelope.Payload["market_slug"] != "btc-updown-15m" {
			t.Errorf("payload = %v", envelope.Payload)
		}
	default:
		t.Fatal("broadcast queue empty")
	}
}
