package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
)

type stubSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (s *stubSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFilter(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, []string{EventTrade, EventStopLoss}, discardLogger())

	if err := n.Notify(context.Background(), EventTrade, "t", "m"); err != nil {
		t.Fatalf("Notify trade: %v", err)
	}
	if err := n.Notify(context.Background(), EventMerge, "t2", "m2"); err != nil {
		t.Fatalf("Notify merge: %v", err)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "t" {
		t.Fatalf("delivered titles = %v, want only trade event", sender.titles)
	}
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	if err := n.Notify(context.Background(), EventMerge, "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 1 {
		t.Fatalf("delivered = %d, want 1", len(sender.titles))
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &stubSender{name: "broken", err: errors.New("webhook 500")}
	healthy := &stubSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v, want combined error naming broken sender", err)
	}
	if len(healthy.titles) != 1 {
		t.Fatalf("healthy sender skipped after earlier failure")
	}
}

func TestFromConfigSkipsUnconfiguredChannels(t *testing.T) {
	n := FromConfig(config.NotifyConfig{}, discardLogger())
	if len(n.senders) != 0 {
		t.Fatalf("senders = %d, want 0", len(n.senders))
	}

	n = FromConfig(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/hook",
	}, discardLogger())
	if len(n.senders) != 2 {
		t.Fatalf("senders = %d, want 2", len(n.senders))
	}
}

func TestTradeCompletedRoutesBargainEvent(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, []string{EventBargain}, discardLogger())

	arb := domain.TradeRecord{MarketSlug: "btc-up-or-down", TradeType: "arbitrage", Status: domain.TradeStatusExecuted}
	if err := n.TradeCompleted(context.Background(), arb); err != nil {
		t.Fatalf("TradeCompleted arbitrage: %v", err)
	}
	if len(sender.titles) != 0 {
		t.Fatalf("arbitrage trade passed a bargain-only filter")
	}

	bargain := domain.TradeRecord{MarketSlug: "eth-up-or-down", TradeType: "bargain", Status: domain.TradeStatusSimulated}
	if err := n.TradeCompleted(context.Background(), bargain); err != nil {
		t.Fatalf("TradeCompleted bargain: %v", err)
	}
	if len(sender.titles) != 1 || !strings.Contains(sender.titles[0], "eth-up-or-down") {
		t.Fatalf("titles = %v", sender.titles)
	}
}

func TestMergeSettledIncludesTxHash(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	rec := domain.MergeRecord{
		ConditionID:  "0xabc",
		Amount:       50,
		USDCReceived: 50,
		NetProfit:    1.5,
		Status:       domain.MergeStatusSuccess,
		TxHash:       "0xdeadbeef",
	}
	if err := n.MergeSettled(context.Background(), rec); err != nil {
		t.Fatalf("MergeSettled: %v", err)
	}
	if !strings.Contains(sender.messages[0], "tx=0xdeadbeef") {
		t.Fatalf("message = %q, want tx hash", sender.messages[0])
	}
}
