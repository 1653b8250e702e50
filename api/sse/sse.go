package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/equipets/cache"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/kasuganosora/equipets/plugin/hook"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel carrying equipment events.
const Channel = "equipment_events"

// Event types sent to clients.
const (
	EventMaintenance = "maintenance"
	EventLevelUp     = "levelup"
	EventDecay       = "decay"
	EventAnnounce    = "announce"
)

const hookName = "sse"

// Envelope is the JSON payload published on Channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, keepalive: 30 * time.Second, logger: logger}
}

// ServeSSE handles GET /sse.
// It streams maintenance, level-up and decay events to connected clients.
func (h *Handler) ServeSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Type == "" {
				h.logger.Warn("sse dropped malformed message", zap.String("payload", msg.Payload))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.Type, env.Data)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Publish sends one typed event to all SSE subscribers.
func Publish(ctx context.Context, ps cache.PubSub, typ string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Envelope{Type: typ, Data: raw})
	if err != nil {
		return err
	}
	return ps.Publish(ctx, Channel, string(b))
}

// Announce publishes an operator message to all SSE subscribers.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return Publish(ctx, h.pubsub, EventAnnounce, gin.H{"message": message})
}

// levelUpEvent is the payload of a levelup event.
type levelUpEvent struct {
	MachineID string `json:"machine_id"`
	Action    string `json:"action"`
	FromLevel int    `json:"from_level"`
	Level     int    `json:"level"`
	XP        int    `json:"xp"`
}

// RegisterHooks forwards care events from hc to the SSE channel.
// Publishing failures are logged and never block the care flow.
func RegisterHooks(hc *hook.HookCenter, ps cache.PubSub, logger *zap.Logger) {
	forward := func(typ string, payload func(interface{}) (interface{}, bool)) hook.HookFn {
		return func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
			if p, ok := payload(data); ok {
				if err := Publish(ctx, ps, typ, p); err != nil {
					logger.Warn("sse publish failed", zap.String("type", typ), zap.Error(err))
				}
			}
			return data, nil
		}
	}

	hc.Register(hook.AfterMaintenance, 100, hookName, forward(EventMaintenance, func(d interface{}) (interface{}, bool) {
		res, ok := d.(*care.MaintenanceResult)
		return res, ok
	}))
	hc.Register(hook.OnLevelUp, 100, hookName, forward(EventLevelUp, func(d interface{}) (interface{}, bool) {
		res, ok := d.(*care.MaintenanceResult)
		if !ok {
			return nil, false
		}
		return levelUpEvent{
			MachineID: res.Outcome.Record.ID,
			Action:    res.Event.Action,
			FromLevel: res.Before.Level,
			Level:     res.Outcome.Record.Level,
			XP:        res.Outcome.Record.XP,
		}, true
	}))
	hc.Register(hook.AfterDecayRun, 100, hookName, forward(EventDecay, func(d interface{}) (interface{}, bool) {
		sum, ok := d.(care.DecaySummary)
		return sum, ok
	}))
}
