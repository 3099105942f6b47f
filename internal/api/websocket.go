package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-core/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEventTypes is the per-account fan-out set (§6: "PnLUpdate, OrderUpdate,
// PositionUpdate, AccountUpdate"). OrderUpdate/PositionUpdate are each
// covered by several underlying event types.
var wsEventTypes = []model.EventType{
	model.EventPnLUpdate,
	model.EventOrderPlaced,
	model.EventOrderAccepted,
	model.EventOrderFilled,
	model.EventOrderPartiallyFilled,
	model.EventOrderCancelled,
	model.EventOrderRejected,
	model.EventPositionOpened,
	model.EventPositionChanged,
	model.EventPositionClosed,
	model.EventAccountUpdate,
}

// websocket upgrades to a per-account event stream. account_id filters the
// bus to events for that account only; omitted, it streams every account.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteJSON(gin.H{"error": "event bus not ready"})
		return
	}
	accountID := c.Query("account_id")

	type subscription struct {
		ch   <-chan model.PlatformEvent
		unsub func()
	}
	subs := make([]subscription, 0, len(wsEventTypes))
	for _, et := range wsEventTypes {
		ch, unsub := s.Bus.Subscribe(et, 64)
		subs = append(subs, subscription{ch: ch, unsub: unsub})
	}
	defer func() {
		for _, sub := range subs {
			sub.unsub()
		}
	}()

	merged := make(chan model.PlatformEvent, 256)
	done := make(chan struct{})
	defer close(done)
	for _, sub := range subs {
		go func(ch <-chan model.PlatformEvent) {
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- ev:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(sub.ch)
	}

	for ev := range merged {
		if accountID != "" && ev.AccountID != accountID {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("api: ws write: %v", err)
			return
		}
	}
}
