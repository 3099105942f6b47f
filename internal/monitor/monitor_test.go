package monitor

import (
	"context"
	"testing"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/model"
)

func TestMonitor_ForwardsRiskAlertsToAlertFn(t *testing.T) {
	bus := events.NewBus()
	received := make(chan string, 1)
	m := &Monitor{
		Bus: bus,
		AlertFn: func(msg string) {
			received <- msg
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(model.PlatformEvent{
		EventType: model.EventRiskAlert,
		AccountID: "acct1",
		Timestamp: time.Now(),
		Data:      map[string]any{"reason": "margin breach"},
	})

	select {
	case msg := <-received:
		if msg == "" {
			t.Fatal("expected a non-empty formatted alert")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded alert")
	}
}

func TestMonitor_SkipsStartWhenUnconfigured(t *testing.T) {
	m := &Monitor{}
	m.Start(context.Background()) // must not panic with nil Bus/AlertFn
}
