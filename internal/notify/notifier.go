// Package notify provides a multi-channel notification system. Engine events
// are dispatched to all registered senders (Telegram, Discord, etc.) and can
// be filtered by event type so operators receive only the alerts they care
// about. Compensation failures always bypass the filter.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches engine events to one or more Senders. It maintains a
// set of allowed event types; NotifyEvent only forwards events whose type is
// in the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by
// NotifyEvent. If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyEvent formats and delivers an engine event, subject to the configured
// event filter. Compensation failures are never filtered: they mean a ledger
// may hold orphaned state that needs an operator.
func (n *Notifier) NotifyEvent(ctx context.Context, event domain.Event) error {
	title, message := formatEvent(event)

	if event.Type == domain.EventCompensationFailed {
		return n.dispatch(ctx, title, message)
	}

	if len(n.events) > 0 && !n.events[event.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event.Type),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func formatEvent(event domain.Event) (title, message string) {
	switch event.Type {
	case domain.EventPositionOpened:
		title = "Position opened"
	case domain.EventPositionClosed:
		title = "Position closed"
	case domain.EventPositionLiquidated:
		title = "Position liquidated"
	case domain.EventYieldGenerated:
		title = "Yield generated"
	case domain.EventCompensationFailed:
		title = "COMPENSATION FAILED: manual intervention required"
	default:
		title = event.Type
	}

	var b strings.Builder
	fmt.Fprintf(&b, "position: %s", event.PositionID)
	if event.AccountID != "" {
		fmt.Fprintf(&b, "\naccount: %s", event.AccountID)
	}
	if !event.Amount.IsZero() {
		fmt.Fprintf(&b, "\namount: %s", event.Amount)
	}
	if event.Detail != "" {
		fmt.Fprintf(&b, "\ndetail: %s", event.Detail)
	}
	return title, b.String()
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// senderTimeout bounds one delivery attempt per channel. Alerts ride the
// operation that emitted them, so a slow channel must not hold a saga open.
const senderTimeout = 10 * time.Second

// postJSON marshals v and POSTs it to url, returning the status code and up
// to 1 KiB of the response body for error reporting.
func postJSON(ctx context.Context, client *http.Client, url string, v any) (int, string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, string(respBody), nil
}
