package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// FormatOpportunity renders an opportunity as a notification title and body.
func FormatOpportunity(o domain.Opportunity) (title, message string) {
	title = fmt.Sprintf("%s %s: $%.2f (%.4f%%)", o.Strategy, o.Underlying, o.ExpectedProfitUSD, o.ExpectedProfitPct)

	var b strings.Builder
	for _, l := range o.Legs {
		fmt.Fprintf(&b, "%s %.6f %s on %s @ %.4f (synthetic %.4f, dev %+.4f%%)\n",
			l.Action, l.Quantity, l.Symbol, l.Exchange, l.Price, l.SyntheticPrice, l.Deviation*100)
	}
	fmt.Fprintf(&b, "capital $%.2f, confidence %.2f, risk %.2f", o.RequiredCapital, o.Confidence, o.RiskScore)
	return title, b.String()
}

// FormatFeedStatus renders a feed status change.
func FormatFeedStatus(s domain.FeedStatus) (title, message string) {
	title = fmt.Sprintf("%s feed %s", s.Exchange, s.Status)
	if s.Error != "" {
		return title, s.Error
	}
	return title, "status changed"
}
