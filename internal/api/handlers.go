package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"strike-engine/internal/bus"
	"strike-engine/internal/trade"
	"strike-engine/pkg/types"
)

// Handlers binds HTTP routes to the engine's components.
type Handlers struct {
	initiator *trade.Initiator
	manager   ManagerAPI
	monitor   MonitorAPI
	bus       *bus.Bus
	logger    *slog.Logger
}

// ManagerAPI is the trade-manager surface the endpoints expose.
type ManagerAPI interface {
	Trade(id int64) (types.Trade, bool, error)
	TradesByStatus(status types.TradeStatus) ([]types.Trade, error)
	AllTrades() ([]types.Trade, error)
	ReportExecutorFailure(id int64) error
	OnAccountChanged(database string)
}

// MonitorAPI is the active-trade supervisor surface.
type MonitorAPI interface {
	TradeChanged(tradeID int64, ticketID string, status types.TradeStatus)
	Active() ([]types.ActiveTrade, error)
}

// NewHandlers creates the route handlers.
func NewHandlers(initiator *trade.Initiator, manager ManagerAPI, monitor MonitorAPI, b *bus.Bus, logger *slog.Logger) *Handlers {
	return &Handlers{
		initiator: initiator,
		manager:   manager,
		monitor:   monitor,
		bus:       b,
		logger:    logger.With("component", "api"),
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// tradeRequestBody is the POST /trades payload. Open requests carry the
// entry fields; close requests carry intent=close plus trade_id and
// sell_price.
type tradeRequestBody struct {
	Intent      string  `json:"intent"`
	TradeID     int64   `json:"trade_id"`
	Strike      int     `json:"strike"`
	Side        string  `json:"side"`
	Ticker      string  `json:"ticker"`
	BuyPrice    float64 `json:"buy_price"`
	SellPrice   float64 `json:"sell_price"`
	Prob        float64 `json:"prob"`
	Position    int     `json:"position"`
	EntryMethod string  `json:"entry_method"`
	CloseMethod string  `json:"close_method"`
	Strategy    string  `json:"trade_strategy"`
	Contract    string  `json:"contract"`
	Market      string  `json:"market"`
}

// HandleTrades serves POST /trades (create open/close) and GET
// /trades?status=… (read).
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTrades(w, r)
	case http.MethodPost:
		h.createTrade(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) listTrades(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var (
		trades []types.Trade
		err    error
	)
	if status == "" {
		trades, err = h.manager.AllTrades()
	} else {
		trades, err = h.manager.TradesByStatus(types.TradeStatus(status))
	}
	if err != nil {
		h.logger.Error("trade listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *Handlers) createTrade(w http.ResponseWriter, r *http.Request) {
	var body tradeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if body.Intent == string(types.IntentClose) {
		closeMethod := body.CloseMethod
		if closeMethod == "" {
			closeMethod = "manual"
		}
		if err := h.initiator.CloseTrade(r.Context(), body.TradeID, body.SellPrice, closeMethod); err != nil {
			h.logger.Error("close request rejected", "trade_id", body.TradeID, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Close ticket received"})
		return
	}

	entryMethod := types.EntryMethod(body.EntryMethod)
	if entryMethod == "" {
		entryMethod = types.EntryManual
	}
	req := trade.Request{
		Strike:      body.Strike,
		Side:        types.Side(body.Side),
		Ticker:      body.Ticker,
		BuyPrice:    body.BuyPrice,
		Prob:        body.Prob,
		Position:    body.Position,
		EntryMethod: entryMethod,
		Strategy:    body.Strategy,
		Contract:    body.Contract,
		Market:      body.Market,
	}
	id, _, err := h.initiator.OpenTrade(r.Context(), req)
	if err != nil {
		h.logger.Error("trade request rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// HandleUpdateTradeStatus is the executor's failure report path.
func (h *Handlers) HandleUpdateTradeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TradeID int64  `json:"trade_id"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if types.TradeStatus(body.Status) != types.StatusError {
		http.Error(w, "only error reports are accepted", http.StatusBadRequest)
		return
	}
	if err := h.manager.ReportExecutorFailure(body.TradeID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// HandlePositionsUpdated is the account sync's trigger for pending and
// closing resolution.
func (h *Handlers) HandlePositionsUpdated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Database string `json:"database"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.manager.OnAccountChanged(body.Database)
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// HandleTradeManagerNotification relays a trade transition to the
// active-trade supervisor.
func (h *Handlers) HandleTradeManagerNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TradeID  int64  `json:"trade_id"`
		TicketID string `json:"ticket_id"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.monitor.TradeChanged(body.TradeID, body.TicketID, types.TradeStatus(body.Status))
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// HandleNotifyDbChange republishes a peer's db-change notification on
// the in-process bus.
func (h *Handlers) HandleNotifyDbChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		DBName     string         `json:"db_name"`
		ChangeData map[string]any `json:"change_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.bus.Publish(bus.Event{
		Type:    bus.EventDbChanged,
		Payload: bus.DbChangePayload{DBName: body.DBName, ChangeData: body.ChangeData},
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// HandleNotifyAutomatedTrade republishes an auto-entry announcement.
func (h *Handlers) HandleNotifyAutomatedTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TicketID string `json:"ticket_id"`
		Strike   int    `json:"strike"`
		Side     string `json:"side"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	h.logger.Info("automated trade announced",
		"ticket_id", body.TicketID, "strike", body.Strike, "side", body.Side)
	h.bus.Publish(bus.Event{
		Type:    bus.EventIndicatorUpdate,
		Payload: bus.IndicatorPayload{Name: "automated_trade", State: body.TicketID},
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// HandleActiveTrades serves the current monitored set.
func (h *Handlers) HandleActiveTrades(w http.ResponseWriter, r *http.Request) {
	active, err := h.monitor.Active()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
