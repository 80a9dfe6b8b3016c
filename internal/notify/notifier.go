// Package notify forwards trading events to chat channels. Events are
// filtered by kind so operators receive only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// DefaultEvents are the kinds delivered when none are configured.
var DefaultEvents = []domain.EventKind{
	domain.EventEntry, domain.EventExit, domain.EventRedeem, domain.EventError,
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers allowed events to every sender.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list selects
// DefaultEvents.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultEvents {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name identifies the notifier as an event sink.
func (n *Notifier) Name() string { return "notify" }

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Record formats ev and sends it when its kind is allowed.
func (n *Notifier) Record(ctx context.Context, ev domain.Event) error {
	if len(n.senders) == 0 || !n.allowed[ev.Kind] {
		return nil
	}
	title, body := Format(ev)
	return n.dispatch(ctx, title, body)
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Format renders an event as a title and body.
func Format(ev domain.Event) (string, string) {
	switch ev.Kind {
	case domain.EventEntry:
		if p := ev.Position; p != nil {
			return "Position opened", fmt.Sprintf("%s\n%s $%.2f @ %.4f\ntrade %s",
				label(p.Question, p.MarketID), p.Side, p.SizeUSD, p.EntryPrice, p.TradeID)
		}
	case domain.EventExit, domain.EventRedeem:
		if t := ev.Trade; t != nil {
			title := "Position closed"
			if ev.Kind == domain.EventRedeem {
				title = "Position redeemed"
			}
			return title, fmt.Sprintf("%s\n%s %.4f -> %.4f (%s)\nPnL $%+.2f",
				label(t.Question, t.MarketID), t.Side, t.EntryPrice, t.ExitPrice, t.Reason, t.PnL)
		}
	case domain.EventSignal:
		if s := ev.Signal; s != nil {
			return "Signal", fmt.Sprintf("%s %s $%.2f edge %dbps", s.Kind, s.MarketID, s.SizeUSD, s.EdgeBps)
		}
	case domain.EventSnapshot:
		if s := ev.Snapshot; s != nil {
			return "Portfolio", fmt.Sprintf("value $%.2f cash $%.2f open %d", s.TotalValue, s.Cash, s.OpenPositions)
		}
	case domain.EventError:
		return "Error", label(ev.Message, ev.MarketID)
	}
	return string(ev.Kind), label(ev.Message, ev.MarketID)
}

func label(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
