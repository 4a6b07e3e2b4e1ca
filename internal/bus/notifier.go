package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier posts change notifications to peer components over HTTP.
// Failures are logged and dropped: a missed notification is covered by
// the coarser periodic sync, never retried into a queue.
type Notifier struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewNotifier creates a notifier with the given request timeout
// (2–5 s is the expected range; longer defeats the fire-and-forget design).
func NewNotifier(timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Notifier{
		http:   resty.New().SetTimeout(timeout),
		logger: logger.With("component", "notifier"),
	}
}

// NotifyDbChange posts a db-change notification to the given base URL.
func (n *Notifier) NotifyDbChange(ctx context.Context, baseURL, dbName string, changeData map[string]any) {
	if baseURL == "" {
		return
	}
	body := map[string]any{
		"db_name":     dbName,
		"timestamp":   time.Now().Format(time.RFC3339),
		"change_data": changeData,
	}
	n.post(ctx, baseURL+"/api/notify_db_change", body)
}

// NotifyTradeManager posts a trade status notification to the
// active-trade supervisor's endpoint.
func (n *Notifier) NotifyTradeManager(ctx context.Context, baseURL string, tradeID int64, ticketID, status string) {
	if baseURL == "" {
		return
	}
	body := map[string]any{
		"trade_id":  tradeID,
		"ticket_id": ticketID,
		"status":    status,
	}
	n.post(ctx, baseURL+"/api/trade_manager_notification", body)
}

// NotifyPositionsUpdated posts the positions/fills trigger the trade
// manager uses for pending/closing resolution.
func (n *Notifier) NotifyPositionsUpdated(ctx context.Context, baseURL, database string) {
	if baseURL == "" {
		return
	}
	n.post(ctx, baseURL+"/api/positions_updated", map[string]any{"database": database})
}

// NotifyAutomatedTrade announces an auto-entry emission.
func (n *Notifier) NotifyAutomatedTrade(ctx context.Context, baseURL string, ticketID string, strike int, side string) {
	if baseURL == "" {
		return
	}
	body := map[string]any{
		"ticket_id": ticketID,
		"strike":    strike,
		"side":      side,
	}
	n.post(ctx, baseURL+"/api/notify_automated_trade", body)
}

func (n *Notifier) post(ctx context.Context, url string, body any) {
	resp, err := n.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		n.logger.Warn("notification failed", "url", url, "error", err)
		return
	}
	if resp.StatusCode() >= 300 {
		n.logger.Warn("notification rejected", "url", url, "status", resp.StatusCode())
	}
}
