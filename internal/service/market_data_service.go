package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/notify"
)

// notifyTimeout bounds alert delivery on the ingestion goroutine.
const notifyTimeout = 5 * time.Second

// MarketDataService mirrors merged market data and feed status changes to
// the cache, bus, audit log, dashboard and notifier. It is a feed observer
// and runs on the ingestor goroutine.
type MarketDataService struct {
	cache    domain.MarketCache
	audit    domain.AuditStore
	notifier *notify.Notifier
	out      publisher
	logger   *slog.Logger

	mu       sync.RWMutex
	statuses map[domain.Exchange]domain.FeedStatus
}

// NewMarketDataService creates a MarketDataService. Any dependency may be nil.
func NewMarketDataService(
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	hub Broadcaster,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *MarketDataService {
	logger = logger.With(slog.String("component", "market_data_service"))
	return &MarketDataService{
		cache:    cache,
		audit:    audit,
		notifier: notifier,
		out:      publisher{bus: bus, hub: hub, logger: logger},
		logger:   logger,
		statuses: make(map[domain.Exchange]domain.FeedStatus),
	}
}

// FeedStatuses returns the last status seen per exchange, sorted by exchange.
func (s *MarketDataService) FeedStatuses() []domain.FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FeedStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// OnMarketData caches and publishes one merged point.
func (s *MarketDataService) OnMarketData(ctx context.Context, p domain.MarketDataPoint) {
	if s.cache != nil {
		if err := s.cache.SetPoint(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "cache point failed",
				slog.String("key", p.Key().String()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.out.publish(ctx, domain.ChannelMarketData, p)
}

// OnFeedStatus publishes, audits and alerts on a feed status change.
// Connecting transitions are only published.
func (s *MarketDataService) OnFeedStatus(ctx context.Context, st domain.FeedStatus) {
	s.mu.Lock()
	s.statuses[st.Exchange] = st
	s.mu.Unlock()

	s.out.publish(ctx, domain.ChannelFeedStatus, st)
	if st.Status == domain.StatusConnecting {
		return
	}

	detail := map[string]any{
		"exchange": st.Exchange.String(),
		"status":   st.Status.String(),
	}
	if st.Error != "" {
		detail["error"] = st.Error
	}
	s.out.audit(ctx, s.audit, "feed_status", detail)

	if st.Status == domain.StatusConnected || !s.notifier.Enabled() {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	title, msg := notify.FormatFeedStatus(st)
	if err := s.notifier.Notify(nctx, notify.EventFeedStatus, st.Exchange.String()+"/"+st.Status.String(), title, msg); err != nil {
		s.logger.WarnContext(ctx, "feed status notification failed", slog.String("error", err.Error()))
	}
}
