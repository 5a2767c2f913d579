// Package service connects the feed and detection engines to the outer
// surfaces: the Redis cache and bus, the audit log, the dashboard hub,
// notifications and metrics. Every outer dependency is optional.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// Broadcaster fans a payload out to connected dashboard clients.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// Envelope is the JSON shape published on every bus channel and to the
// dashboard.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// publisher sends envelopes to the bus and the hub, tolerating either being
// absent.
type publisher struct {
	bus    domain.SignalBus
	hub    Broadcaster
	logger *slog.Logger
}

func (p publisher) publish(ctx context.Context, channel string, payload any) []byte {
	data, err := json.Marshal(Envelope{Type: channel, Payload: payload})
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal envelope failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if p.bus != nil {
		if err := p.bus.Publish(ctx, channel, data); err != nil {
			p.logger.WarnContext(ctx, "publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.hub != nil {
		p.hub.Broadcast(channel, data)
	}
	return data
}

func (p publisher) audit(ctx context.Context, store domain.AuditStore, event string, detail map[string]any) {
	if store == nil {
		return
	}
	if err := store.Log(ctx, event, detail); err != nil {
		p.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
