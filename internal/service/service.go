// Package service wraps each program instruction in the work that surrounds
// it: lock and replay handling through the executor, then, only after the
// unit commits, audit entries, settlement receipts and published events.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// Call carries what the transport layer learned about a request.
type Call struct {
	// RequestID is the replay key. Empty means the executor picks one.
	RequestID string
	// ExpiresAt is the signed deadline of the request. Zero for in-process
	// calls.
	ExpiresAt time.Time
	Signers   domain.Signers
}

// Event is the envelope published on a signal bus channel.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data"`
}

// Publisher fans committed events out to live subscribers and to the
// replayable journal. Either sink may be nil.
type Publisher struct {
	bus     domain.SignalBus
	journal domain.EventJournal
	logger  *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, journal domain.EventJournal, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, journal: journal, logger: logger.With(slog.String("component", "publisher"))}
}

// Publish never fails the caller: the unit has already committed, so a
// delivery problem is logged and dropped.
func (p *Publisher) Publish(ctx context.Context, channel string, evt Event) {
	if p == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.WarnContext(ctx, "marshal event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if p.bus != nil {
		if err := p.bus.Publish(ctx, channel, payload); err != nil {
			p.logger.WarnContext(ctx, "publish event failed",
				slog.String("channel", channel),
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.journal != nil {
		if err := p.journal.StreamAppend(ctx, channel, payload); err != nil {
			p.logger.WarnContext(ctx, "journal append failed",
				slog.String("channel", channel),
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// auditLog writes an audit entry after commit; failures are logged only.
func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
