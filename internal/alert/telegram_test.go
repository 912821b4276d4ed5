package alert

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestDryRunMode(t *testing.T) {
	n := NewTelegramNotifier(false, "", "", nil, nil)
	if n.Mode() != StatusDryRun {
		t.Fatalf("mode=%s want=dry-run", n.Mode())
	}
	status, err := n.Send(context.Background(), "hello", "k1", time.Minute)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if status != StatusDryRun {
		t.Fatalf("status=%s want=dry-run", status)
	}
}

func TestSendCooldownDedupe(t *testing.T) {
	n := NewTelegramNotifier(false, "", "", nil, nil)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return current }

	if status, _ := n.Send(context.Background(), "m", "rule:mkt", time.Minute); status != StatusDryRun {
		t.Fatalf("first send status=%s", status)
	}
	current = current.Add(30 * time.Second)
	if status, _ := n.Send(context.Background(), "m", "rule:mkt", time.Minute); status != StatusCooled {
		t.Fatalf("second send status=%s want=cooldown", status)
	}
	current = current.Add(31 * time.Second)
	if status, _ := n.Send(context.Background(), "m", "rule:mkt", time.Minute); status != StatusDryRun {
		t.Fatalf("third send status=%s want=dry-run after cooldown", status)
	}
}

func TestSendTruncatesOversizePayload(t *testing.T) {
	n := NewTelegramNotifier(false, "", "", nil, nil)
	message := strings.Repeat("x", maxPayloadBytes*2)
	// Dry-run still exercises the truncation path; the notifier must never
	// ship more than the transport limit.
	if len(message) <= maxPayloadBytes {
		t.Fatalf("test message too small")
	}
	status, err := n.Send(context.Background(), message, "", 0)
	if err != nil || status != StatusDryRun {
		t.Fatalf("send=%s err=%v", status, err)
	}
}
