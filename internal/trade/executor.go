package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"strike-engine/internal/exchange"
	"strike-engine/pkg/types"
)

// executorTimeout bounds one broker order submission; the manager
// interprets a timeout as an error status on the trade.
const executorTimeout = 5 * time.Second

// OrderClient is the broker surface the executor needs.
type OrderClient interface {
	CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error)
}

// Executor is the thin broker adapter. For an open ticket it submits a
// market buy on the ticket's side; for a close ticket it sells the
// originally held side (the ticket side arrives already inverted, so the
// held side is its opposite). All state lives in the manager.
type Executor struct {
	client OrderClient
	logger *slog.Logger
}

// NewExecutor creates the broker adapter.
func NewExecutor(client OrderClient, logger *slog.Logger) *Executor {
	return &Executor{client: client, logger: logger.With("component", "executor")}
}

// Execute submits the order for one ticket. Returns nil once the broker
// acks, or an error with the reason.
func (e *Executor) Execute(ctx context.Context, t types.Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, executorTimeout)
	defer cancel()

	req := exchange.OrderRequest{
		Ticker:        t.Ticker,
		ClientOrderID: t.TicketID,
		Count:         t.Position,
		Type:          "market",
	}
	switch t.Intent {
	case types.IntentOpen:
		req.Action = "buy"
		req.Side = sideWord(t.Side)
	case types.IntentClose:
		req.Action = "sell"
		req.Side = sideWord(t.Side.Opposite())
	default:
		return fmt.Errorf("unknown ticket intent %q", t.Intent)
	}

	ack, err := e.client.CreateOrder(ctx, req)
	if err != nil {
		e.logger.Error("order submission failed",
			"ticket_id", t.TicketID,
			"ticker", t.Ticker,
			"error", err,
		)
		return err
	}

	e.logger.Info("order accepted",
		"ticket_id", t.TicketID,
		"ticker", t.Ticker,
		"order_id", ack.Order.OrderID,
		"action", req.Action,
		"side", req.Side,
		"count", req.Count,
	)
	return nil
}

func sideWord(s types.Side) string {
	if s == types.SideYes {
		return "yes"
	}
	return "no"
}
