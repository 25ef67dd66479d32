// Package httpapi is the REST edge in front of the admission service,
// order store, ledger, and price oracle. It owns no state; every handler
// maps a request onto one already-wired component and translates errors
// through the shared taxonomy.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"bourse/internal/admission"
	"bourse/internal/bourseerr"
	"bourse/internal/clock"
	"bourse/internal/ledger"
	"bourse/internal/oracle"
	"bourse/internal/orderstore"
)

// Server is the REST edge. It depends only on already-wired components; it
// owns no state of its own.
type Server struct {
	admission *admission.Service
	orders    orderstore.Store
	ledger    ledger.Ledger
	oracle    *oracle.Oracle
	calendar  *clock.Calendar
	timeout   time.Duration
}

// New builds a Server. timeout bounds each admission call.
func New(adm *admission.Service, orders orderstore.Store, l ledger.Ledger, o *oracle.Oracle, cal *clock.Calendar, timeout time.Duration) *Server {
	return &Server{admission: adm, orders: orders, ledger: l, oracle: o, calendar: cal, timeout: timeout}
}

// Router builds the gorilla/mux router for the public surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/orders/buy", s.handleSubmitBuy).Methods(http.MethodPost)
	r.HandleFunc("/orders/sell", s.handleSubmitSell).Methods(http.MethodPost)
	r.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{userId}/balance", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/prices/{ticker}", s.handlePrice).Methods(http.MethodGet)
	r.HandleFunc("/market/status", s.handleMarketStatus).Methods(http.MethodGet)
	return r
}

type orderRequest struct {
	UserID string `json:"userId"`
	Ticker string `json:"ticker"`
	Qty    uint64 `json:"qty"`
	Price  *int64 `json:"price,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (s *Server) handleSubmitBuy(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, s.admission.SubmitBuy)
}

func (s *Server) handleSubmitSell(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, s.admission.SubmitSell)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, ticker string, qty uint64, price *int64) (string, error)) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, bourseerr.ErrInvalidArgument)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	orderID, err := fn(ctx, req.UserID, req.Ticker, req.Qty, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{OrderID: order.ID, Status: order.Status.String()})
}

type orderDetailResponse struct {
	OrderID    string `json:"orderId"`
	Side       string `json:"side"`
	Ticker     string `json:"ticker"`
	PriceMinor int64  `json:"priceMinor"`
	Quantity   uint64 `json:"quantity"`
	Status     string `json:"status"`
	RetryCount int    `json:"retryCount"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	order, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderDetailResponse{
		OrderID:    order.ID,
		Side:       order.Side.String(),
		Ticker:     order.Ticker,
		PriceMinor: order.PriceMinor,
		Quantity:   order.Quantity,
		Status:     order.Status.String(),
		RetryCount: order.RetryCount,
	})
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	acc, err := s.ledger.CreateAccount(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.ledger.Balance(r.Context(), acc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type priceResponse struct {
	Ticker       string `json:"ticker"`
	LastPrice    int64  `json:"lastPrice"`
	Source       string `json:"source"`
	IsMarketOpen bool   `json:"isMarketOpen"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	price, err := s.oracle.CurrentPrice(r.Context(), ticker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Ticker:       price.Ticker,
		LastPrice:    price.Amount,
		Source:       price.Source.String(),
		IsMarketOpen: s.calendar.IsOpen(),
	})
}

type marketStatusResponse struct {
	IsOpen   bool      `json:"isOpen"`
	NextOpen time.Time `json:"nextOpen"`
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	now := s.calendar.Now()
	writeJSON(w, http.StatusOK, marketStatusResponse{
		IsOpen:   s.calendar.IsOpenAt(now),
		NextOpen: s.calendar.NextOpen(now),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := bourseerr.KindOf(err)
	if !bourseerr.ClientVisible(err) {
		// Log the detail, return only the classification.
		log.Error().Err(err).Msg("httpapi: internal error")
		writeJSON(w, kind.HTTPStatus(), errorResponse{Error: kind.String()})
		return
	}
	writeJSON(w, kind.HTTPStatus(), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("httpapi: encode response failed")
	}
}
