package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/model"
)

// Monitor watches the bus for risk alerts and forwards them to AlertFn
// (operator notification, AlertSink, etc).
type Monitor struct {
	Bus     *events.Bus
	AlertFn func(string)
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.AlertFn == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(model.EventRiskAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream:
				if !ok {
					return
				}
				m.AlertFn(formatAlert(ev))
			}
		}
	}()
}

func formatAlert(ev model.PlatformEvent) string {
	return fmt.Sprintf("[%s] %s account=%s data=%v", ev.Timestamp.Format(time.RFC3339), ev.EventType, ev.AccountID, ev.Data)
}
