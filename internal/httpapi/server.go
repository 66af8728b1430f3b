package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
	"github.com/digkill/TGMediaGen/internal/provider"
	"github.com/digkill/TGMediaGen/internal/referral"
	"github.com/digkill/TGMediaGen/internal/repository"
)

type Users interface {
	EnsureUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error)
}

type Submitter interface {
	Submit(ctx context.Context, user *models.User, tool string, params provider.Params, idempotencyKey string) (*models.GenerationJob, error)
}

type JobReader interface {
	GetByID(ctx context.Context, jobID string) (*models.GenerationJob, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]models.GenerationJob, error)
	GetLastResult(ctx context.Context, userID int64, tool string) (*models.LastResult, error)
}

type Payments interface {
	CreateStripeCheckout(ctx context.Context, userID int64, sku string) (string, error)
	CreateCryptoInvoice(ctx context.Context, userID int64, sku string) (string, error)
	HandleStripeWebhook(ctx context.Context, signatureHeader string, body []byte) error
	HandleCryptoWebhook(ctx context.Context, signature string, body []byte) error
}

type Referrals interface {
	GetOrCreateLink(ctx context.Context, inviterUserID int64) (referral.Link, error)
	List(ctx context.Context, inviterUserID int64) ([]repository.ReferralItem, error)
	Attribute(ctx context.Context, inviteeUserID int64, startParam string)
}

type Artifacts interface {
	Write(ctx context.Context, kind models.MediaKind, data []byte) (string, string, error)
}

type Avatars interface {
	AvatarURL(ctx context.Context, telegramID int64) (string, error)
}

type Catalog interface {
	Lookup(key string) (provider.Adapter, bool)
}

type Server struct {
	addr      string
	botToken  string
	staticDir string
	log       *slog.Logger

	users     Users
	jobs      JobReader
	submitter Submitter
	payments  Payments
	referrals Referrals
	artifacts Artifacts
	avatars   Avatars
	tools     Catalog
	callbacks *provider.CallbackStore

	router *chi.Mux
}

type Deps struct {
	BotToken  string
	StaticDir string
	Users     Users
	Jobs      JobReader
	Submitter Submitter
	Payments  Payments
	Referrals Referrals
	Artifacts Artifacts
	Avatars   Avatars
	Tools     Catalog
	Callbacks *provider.CallbackStore
}

func NewServer(addr string, deps Deps, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{
		addr:      addr,
		botToken:  deps.BotToken,
		staticDir: deps.StaticDir,
		log:       log,
		users:     deps.Users,
		jobs:      deps.Jobs,
		submitter: deps.Submitter,
		payments:  deps.Payments,
		referrals: deps.Referrals,
		artifacts: deps.Artifacts,
		avatars:   deps.Avatars,
		tools:     deps.Tools,
		callbacks: deps.Callbacks,
		router:    r,
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Post("/me", s.handleMe)
		api.Post("/avatar", s.handleAvatar)
		api.Post("/{tool}/generate", s.handleGenerate)
		api.Post("/{tool}/last", s.handleLastResult)
		api.Post("/jobs/list", s.handleJobsList)
		api.Get("/jobs/{id}", s.handleJobGet)
		api.Post("/ref/create", s.handleRefCreate)
		api.Post("/ref/list", s.handleRefList)
		api.Post("/stripe/checkout", s.handleStripeCheckout)
		api.Post("/stripe/webhook", s.handleStripeWebhook)
		api.Post("/cryptocloud/invoice", s.handleCryptoInvoice)
		api.Post("/cryptocloud/webhook", s.handleCryptoWebhook)
		api.Post("/provider/callback", s.handleProviderCallback)
	})
	if s.staticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, nil)
}

// money renders balances and costs as fixed two-decimal strings.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
