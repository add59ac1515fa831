package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const registeredMessage = "device registered successfully"

// Registrar handles device registrations. Register must not block on the ledger.
type Registrar interface {
	Register(wallet, device string)
	Registrations() int
	ActiveWatches() int
}

// PaymentHistory reads the payment history.
type PaymentHistory interface {
	ListPayments(ctx context.Context, wallet string, limit int) ([]domain.PaymentRecord, error)
	CountByOutcome(ctx context.Context) (map[domain.DeliveryOutcome]int64, error)
}

type healthResponse struct {
	Status        string `json:"status"`
	Registrations int    `json:"registrations"`
	ActiveWatches int    `json:"activeWatches"`
}

type metricsResponse struct {
	infra.MetricsSnapshot
	Outcomes map[domain.DeliveryOutcome]int64 `json:"outcomes,omitempty"`
}

type registerRequest struct {
	WalletAddress  string `json:"walletAddress"`
	DeviceAddress  string `json:"deviceAddress"`
	NodeMCUAddress string `json:"nodeMCUAddress"`
}

func (r registerRequest) device() string {
	if r.DeviceAddress != "" {
		return r.DeviceAddress
	}
	return r.NodeMCUAddress
}

// Server is the relay's HTTP boundary.
type Server struct {
	registrar Registrar
	sessions  http.Handler
	metrics   *infra.Metrics
	payments  PaymentHistory // nil when history is disabled

	router chi.Router
	srv    *http.Server
	addr   string
}

// NewServer wires the routes. payments may be nil.
func NewServer(addr string, readTimeout time.Duration, registrar Registrar, sessions http.Handler, metrics *infra.Metrics, payments PaymentHistory) *Server {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	s := &Server{
		registrar: registrar,
		sessions:  sessions,
		metrics:   metrics,
		payments:  payments,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", s.handleRegister)
	r.Get("/ws", s.sessions.ServeHTTP)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/payments/{wallet}", s.handlePayments)
	s.router = r

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: readTimeout,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("🌐 Server running", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	// Watch failures are logged by the registrar
	s.registrar.Register(req.WalletAddress, req.device())

	writeJSON(w, http.StatusOK, map[string]string{"message": registeredMessage})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Registrations: s.registrar.Registrations(),
		ActiveWatches: s.registrar.ActiveWatches(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := metricsResponse{MetricsSnapshot: s.metrics.Snapshot()}
	if s.payments != nil {
		outcomes, err := s.payments.CountByOutcome(r.Context())
		if err != nil {
			slog.Warn("Outcome counts unavailable", slog.Any("error", err))
		} else {
			resp.Outcomes = outcomes
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment history disabled"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	wallet := chi.URLParam(r, "wallet")
	records, err := s.payments.ListPayments(r.Context(), wallet, limit)
	if err != nil {
		slog.Error("Payment history read failed", slog.String("wallet", wallet), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if records == nil {
		records = []domain.PaymentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Response encode failed", slog.Any("error", err))
	}
}
