// Package gateway exposes the lease core to the session layer over HTTP. All
// operations are request/response JSON; policy denials are ordinary business
// outcomes and travel with a 200 status, while payment and infrastructure
// failures map to 402 and 502 respectively.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iglood/gateway/middleware"
	"iglood/lease"
	"iglood/observability"
	"iglood/payment"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front end for the lease engine.
type Server struct {
	engine  *lease.Engine
	store   lease.RoomStore
	log     *slog.Logger
	metrics *observability.Metrics

	auth      *middleware.Authenticator
	rateLimit *middleware.RateLimiter
	obs       *middleware.Observability
}

// Option customises a Server.
type Option func(*Server)

// WithAuth attaches the bearer-token authenticator.
func WithAuth(a *middleware.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithRateLimiter attaches the per-client rate limiter.
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(s *Server) { s.rateLimit = rl }
}

// WithObservability attaches request metrics and tracing.
func WithObservability(o *middleware.Observability) Option {
	return func(s *Server) { s.obs = o }
}

// WithMetrics exposes the lease collectors on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer constructs the gateway over the engine and store.
func NewServer(engine *lease.Engine, store lease.RoomStore, opts ...Option) *Server {
	if engine == nil {
		panic("lease engine required")
	}
	if store == nil {
		panic("room store required")
	}
	s := &Server{engine: engine, store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		if s.obs != nil {
			v1.Use(s.obs.Middleware("v1"))
		}
		if s.rateLimit != nil {
			v1.Use(s.rateLimit.Middleware())
		}
		if s.auth != nil {
			v1.Use(s.auth.Middleware())
		}

		v1.Get("/rooms", s.handleListRooms)
		v1.Route("/rooms/{roomID}", func(room chi.Router) {
			room.Get("/", s.handleGetRoom)
			room.Get("/can-rent", s.handleCanRent)
			room.Post("/rent", s.handleStartRental)
			room.Post("/rent/renew", s.handlePayRent)
			room.Post("/leave", s.handleLeave)
			room.Put("/settings", s.handleUpdateSettings)
			room.Post("/entry-fee", s.handlePayEntryFee)
			room.Post("/can-enter", s.handleCanEnter)
			room.Post("/visits", s.handleRecordVisit)
		})
	})
	return r
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.log.Error("room listing failed", "err", err)
		writeError(w, http.StatusInternalServerError, "room listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.LoadRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		if errors.Is(err, lease.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		s.log.Error("room load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "room load failed")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleCanRent(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}
	quote := s.engine.CanRent(r.Context(), wallet, chi.URLParam(r, "roomID"))
	writeJSON(w, statusForCode(quote.Code), quote)
}

type paymentRequest struct {
	Wallet         string `json:"wallet"`
	PaymentPayload string `json:"paymentPayload"`
}

func (s *Server) handleStartRental(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := s.engine.StartRental(r.Context(), req.Wallet, chi.URLParam(r, "roomID"), req.PaymentPayload)
	writeJSON(w, statusForCode(result.Code), result)
}

func (s *Server) handlePayRent(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := s.engine.PayRent(r.Context(), req.Wallet, chi.URLParam(r, "roomID"), req.PaymentPayload)
	writeJSON(w, statusForCode(result.Code), result)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result := s.engine.LeaveIgloo(r.Context(), req.Wallet, chi.URLParam(r, "roomID"))
	writeJSON(w, statusForCode(result.Code), result)
}

type settingsRequest struct {
	Wallet       string              `json:"wallet"`
	AccessPolicy *lease.AccessPolicy `json:"accessPolicy,omitempty"`
	TokenGate    *tokenGatePatch     `json:"tokenGate,omitempty"`
	EntryFee     *entryFeePatch      `json:"entryFee,omitempty"`
	Banner       *bannerPatch        `json:"banner,omitempty"`
}

type tokenGatePatch struct {
	Enabled        *bool   `json:"enabled,omitempty"`
	TokenAddress   *string `json:"tokenAddress,omitempty"`
	TokenSymbol    *string `json:"tokenSymbol,omitempty"`
	MinimumBalance *uint64 `json:"minimumBalance,omitempty"`
}

type entryFeePatch struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Amount  *string `json:"amount,omitempty"`
}

type bannerPatch struct {
	Title      *string `json:"title,omitempty"`
	Ticker     *string `json:"ticker,omitempty"`
	ShillText  *string `json:"shillText,omitempty"`
	StyleIndex *int    `json:"styleIndex,omitempty"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	patch := lease.SettingsPatch{AccessPolicy: req.AccessPolicy}
	if req.TokenGate != nil {
		patch.TokenGate = &lease.TokenGatePatch{
			Enabled:        req.TokenGate.Enabled,
			TokenAddress:   req.TokenGate.TokenAddress,
			TokenSymbol:    req.TokenGate.TokenSymbol,
			MinimumBalance: req.TokenGate.MinimumBalance,
		}
	}
	if req.EntryFee != nil {
		fee := &lease.EntryFeePatch{Enabled: req.EntryFee.Enabled}
		if req.EntryFee.Amount != nil {
			units, ok := new(big.Int).SetString(strings.TrimSpace(*req.EntryFee.Amount), 10)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid entry fee amount")
				return
			}
			fee.Amount = units
		}
		patch.EntryFee = fee
	}
	if req.Banner != nil {
		patch.Banner = &lease.BannerPatch{
			Title:      req.Banner.Title,
			Ticker:     req.Banner.Ticker,
			ShillText:  req.Banner.ShillText,
			StyleIndex: req.Banner.StyleIndex,
		}
	}
	result := s.engine.UpdateSettings(r.Context(), req.Wallet, chi.URLParam(r, "roomID"), patch)
	writeJSON(w, statusForCode(result.Code), result)
}

func (s *Server) handlePayEntryFee(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	result := s.engine.PayEntryFee(r.Context(), req.Wallet, chi.URLParam(r, "roomID"), req.PaymentPayload)
	writeJSON(w, statusForCode(result.Code), result)
}

func (s *Server) handleCanEnter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet       string  `json:"wallet"`
		TokenBalance *uint64 `json:"tokenBalance,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	decision := s.engine.CanEnter(r.Context(), req.Wallet, chi.URLParam(r, "roomID"), lease.EntryProof{TokenBalance: req.TokenBalance})
	writeJSON(w, statusForCode(decision.Reason), decision)
}

func (s *Server) handleRecordVisit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.RecordVisit(r.Context(), chi.URLParam(r, "roomID"), req.Wallet); err != nil {
		if errors.Is(err, lease.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		s.log.Error("visit record failed", "err", err)
		writeError(w, http.StatusInternalServerError, "visit record failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// statusForCode maps result codes onto HTTP statuses. Policy denials are
// successful HTTP exchanges; only payment and infrastructure failures change
// the status.
func statusForCode(code lease.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case lease.CodeRoomNotFound:
		return http.StatusNotFound
	case lease.CodeStorageError:
		return http.StatusInternalServerError
	}
	pc := payment.Code(code)
	if pc.Infrastructure() {
		return http.StatusBadGateway
	}
	switch pc {
	case payment.CodeInvalidPayload, payment.CodePayloadExpired, payment.CodeWrongNetwork,
		payment.CodeInvalidSignature, payment.CodeVerificationError,
		payment.CodeInsufficientAmount, payment.CodeWrongRecipient, payment.CodeWrongToken:
		return http.StatusPaymentRequired
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
