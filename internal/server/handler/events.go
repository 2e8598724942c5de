package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/custodex/internal/domain"
)

// journalEntry inlines the stored event JSON.
type journalEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// EventsHandler lets clients catch up on events they missed.
type EventsHandler struct {
	journal domain.EventJournal
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(journal domain.EventJournal, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{journal: journal, logger: logger}
}

// ReadEvents returns journal entries after the given id.
// GET /api/events/{channel}?after=<id>&limit=100
func (h *EventsHandler) ReadEvents(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	if channel != domain.ChannelOffers && channel != domain.ChannelSessions {
		writeError(w, r, h.logger, "read events", fmt.Errorf("unknown channel %q: %w", channel, errBadRequest))
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, h.logger, "read events", fmt.Errorf("limit %q: %w", v, errBadRequest))
			return
		}
		limit = min(n, 1000)
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	msgs, err := h.journal.StreamRead(r.Context(), channel, after, limit)
	if err != nil {
		writeError(w, r, h.logger, "read events", err)
		return
	}
	out := make([]journalEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, journalEntry{ID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "events": out})
}
