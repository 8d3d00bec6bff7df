package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/service"
	"github.com/digkill/modelstudio/internal/wizard"
)

type Options struct {
	Addr           string
	AdminUsername  string
	AdminPassword  string
	MaxUploadBytes int64
	// GenerationTimeout bounds one generate request; the write timeout is
	// derived from it.
	GenerationTimeout time.Duration
}

type Server struct {
	opts     Options
	log      *slog.Logger
	sessions *wizard.Sessions
	accounts *credits.Accounts
	tiers    *service.TierService
	payments *service.PaymentService
	router   *chi.Mux
}

func NewServer(opts Options, log *slog.Logger, sessions *wizard.Sessions, accounts *credits.Accounts, tiers *service.TierService, payments *service.PaymentService) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		opts:     opts,
		log:      log,
		sessions: sessions,
		accounts: accounts,
		tiers:    tiers,
		payments: payments,
		router:   r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/stripe", s.handleStripeWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/presets", s.handlePresets)
		r.Get("/tiers", s.handleTiers)

		r.Group(func(r chi.Router) {
			r.Use(profileMiddleware)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/images", s.handleUploadImages)
				r.Delete("/images", s.handleClearImages)
				r.Delete("/images/{index}", s.handleRemoveImage)
				r.Put("/prompt", s.handleSetPrompt)
				r.Put("/preset", s.handleSelectPreset)
				r.Post("/generate", s.handleGenerate)
				r.Post("/reset", s.handleReset)
				r.Post("/start-over", s.handleStartOver)
				r.Post("/paywall/dismiss", s.handleDismissPaywall)
			})

			r.Get("/credits", s.handleCredits)
			r.Get("/history", s.handleHistory)
			r.Delete("/history", s.handleClearHistory)
			r.Post("/history/{id}/select", s.handleSelectHistory)
			r.Get("/welcome", s.handleWelcome)
			r.Post("/welcome", s.handleMarkWelcome)
			r.Post("/checkout", s.handleCheckout)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware())
		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", s.handleAdminListTiers)
			r.Post("/", s.handleAdminCreateTier)
			r.Put("/{id}", s.handleAdminUpdateTier)
			r.Delete("/{id}", s.handleAdminDeleteTier)
		})
		r.Post("/profiles/{id}/credits", s.handleAdminGrantCredits)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	writeTimeout := s.opts.GenerationTimeout + 30*time.Second
	if writeTimeout < time.Minute {
		writeTimeout = time.Minute
	}
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("studio api listening", "addr", s.opts.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.opts.AdminUsername || pass != s.opts.AdminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="modelstudio"`)
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wizard.ErrValidation), errors.Is(err, service.ErrInvalidTier):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wizard.ErrPaywall):
		return http.StatusPaymentRequired
	case errors.Is(err, wizard.ErrBusy), errors.Is(err, wizard.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, wizard.ErrHistoryNotFound), errors.Is(err, wizard.ErrPresetNotFound), errors.Is(err, service.ErrTierNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrFreeTier), errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
