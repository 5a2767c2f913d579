package ws

import (
	"slices"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// defaultTopics are delivered to a dashboard until it changes its
// subscription.
var defaultTopics = []string{
	domain.ChannelOpportunities,
	domain.ChannelMetrics,
	domain.ChannelFeedStatus,
	domain.ChannelMarketData,
}

// snapshotTopics carry whole-state payloads, so the newest message alone is
// enough to bring a late subscriber up to date. market_data is a stream of
// single-venue updates and is never replayed.
var snapshotTopics = []string{
	domain.ChannelOpportunities,
	domain.ChannelMetrics,
	domain.ChannelFeedStatus,
}

func isSnapshotTopic(topic string) bool {
	return slices.Contains(snapshotTopics, topic)
}

// topicSet holds a client's subscriptions. An entry ending in "*" matches
// every topic with that prefix.
type topicSet map[string]bool

func newTopicSet(topics ...string) topicSet {
	s := make(topicSet, len(topics))
	for _, t := range topics {
		s.add(t)
	}
	return s
}

func (s topicSet) add(topic string) bool {
	topic = strings.TrimSpace(topic)
	if topic == "" || s[topic] {
		return false
	}
	s[topic] = true
	return true
}

func (s topicSet) remove(topic string) {
	delete(s, strings.TrimSpace(topic))
}

func (s topicSet) matches(topic string) bool {
	if s[topic] {
		return true
	}
	for pattern := range s {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// expand returns the snapshot topics selected by patterns, in stable order.
func expand(patterns []string) []string {
	sel := newTopicSet(patterns...)
	var out []string
	for _, t := range snapshotTopics {
		if sel.matches(t) {
			out = append(out, t)
		}
	}
	return out
}
