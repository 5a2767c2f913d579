package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// FeedStatusSource reports the last known status of each feed.
type FeedStatusSource interface {
	FeedStatuses() []domain.FeedStatus
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	feeds FeedStatusSource
	now   func() time.Time
}

// NewHealthHandler creates a HealthHandler. feeds may be nil.
func NewHealthHandler(feeds FeedStatusSource) *HealthHandler {
	return &HealthHandler{feeds: feeds, now: time.Now}
}

// HealthCheck responds with "ok" when every known feed is connected and
// "degraded" otherwise. The process answering at all is the liveness
// signal, so the status code is always 200.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	feeds := []domain.FeedStatus{}
	if h.feeds != nil {
		feeds = h.feeds.FeedStatuses()
	}
	for _, f := range feeds {
		if f.Status != domain.StatusConnected {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"feeds":     feeds,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
