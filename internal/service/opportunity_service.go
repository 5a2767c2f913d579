package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/notify"
)

// CycleRecorder receives every published detection cycle.
type CycleRecorder interface {
	RecordCycle(opps []domain.Opportunity, m domain.PerformanceMetrics)
}

// OpportunityStream is the durable stream that keeps published opportunity
// batches for late consumers.
const OpportunityStream = "opportunities"

// OpportunityService publishes the result of each detection cycle.
type OpportunityService struct {
	bus          domain.SignalBus
	notifier     *notify.Notifier
	recorder     CycleRecorder
	minProfitUSD float64
	out          publisher
	logger       *slog.Logger
}

// NewOpportunityService creates an OpportunityService. Opportunities whose
// expected profit reaches minProfitUSD are sent to the notifier. Any
// dependency may be nil.
func NewOpportunityService(
	bus domain.SignalBus,
	hub Broadcaster,
	notifier *notify.Notifier,
	recorder CycleRecorder,
	minProfitUSD float64,
	logger *slog.Logger,
) *OpportunityService {
	logger = logger.With(slog.String("component", "opportunity_service"))
	return &OpportunityService{
		bus:          bus,
		notifier:     notifier,
		recorder:     recorder,
		minProfitUSD: minProfitUSD,
		out:          publisher{bus: bus, hub: hub, logger: logger},
		logger:       logger,
	}
}

// PublishCycle publishes opps and the metrics snapshot taken after the cycle.
func (s *OpportunityService) PublishCycle(ctx context.Context, opps []domain.Opportunity, m domain.PerformanceMetrics) {
	if s.recorder != nil {
		s.recorder.RecordCycle(opps, m)
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}

	data := s.out.publish(ctx, domain.ChannelOpportunities, opps)
	s.out.publish(ctx, domain.ChannelMetrics, m)

	if len(opps) == 0 {
		return
	}
	if s.bus != nil && data != nil {
		if err := s.bus.StreamAppend(ctx, OpportunityStream, data); err != nil {
			s.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
		}
	}
	s.logger.DebugContext(ctx, "cycle published",
		slog.Int("opportunities", len(opps)),
		slog.Float64("best_profit_usd", opps[0].ExpectedProfitUSD),
	)

	if !s.notifier.Enabled() {
		return
	}
	for _, o := range opps {
		if o.ExpectedProfitUSD < s.minProfitUSD {
			continue
		}
		title, msg := notify.FormatOpportunity(o)
		if err := s.notifier.Notify(ctx, notify.EventOpportunity, OpportunityKey(o), title, msg); err != nil {
			s.logger.WarnContext(ctx, "opportunity notification failed", slog.String("error", err.Error()))
		}
	}
}

// OpportunityKey identifies the trade an opportunity describes independently
// of the cycle that found it, so repeated detections share a cooldown.
func OpportunityKey(o domain.Opportunity) string {
	legs := make([]string, 0, len(o.Legs))
	for _, l := range o.Legs {
		legs = append(legs, fmt.Sprintf("%s:%s:%s", l.Action, l.Exchange, l.Symbol))
	}
	sort.Strings(legs)
	return string(o.Strategy) + "|" + o.Underlying + "|" + strings.Join(legs, ",")
}
