// Package server provides the HTTP API for minting signed upload URLs.
//
// Endpoints:
//
//	GET /get_signed_url  mint a signed PUT URL (requires X-API-KEY)
//	GET /health          liveness and instance identity
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/tomasbasham/signed-url/internal/config"
	"github.com/tomasbasham/signed-url/internal/storage"
)

// Error is the error class for server failures.
var Error = errs.Class("server")

const shutdownTimeout = 30 * time.Second

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	log    *zap.Logger
	signer storage.Signer
	cfg    *config.Config
	router chi.Router
}

// New creates a Server wired to the given signer. cfg must already be
// validated and is not modified.
func New(log *zap.Logger, signer storage.Signer, cfg *config.Config) *Server {
	s := &Server{
		log:    log,
		signer: signer,
		cfg:    cfg,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(log))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader, RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(log, cfg.APIKey))
		r.Get("/get_signed_url", s.handleGetSignedURL)
	})

	s.router = r
	return s
}

// ServeHTTP dispatches the request to the matching handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr and serves until ctx is done, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return Error.Wrap(err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is done. lis is closed on
// return.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.cfg.SignTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(lis)
	}()

	s.log.Info("serving", zap.String("address", lis.Addr().String()))

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// signedURLResponse is returned from GET /get_signed_url.
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// healthResponse is returned from GET /health.
type healthResponse struct {
	Status string `json:"status"`
	config.Instance
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:   "healthy",
		Instance: s.cfg.Instance,
	})
}

func (s *Server) handleGetSignedURL(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	objectName := query.Get("object_name")
	if objectName == "" {
		writeError(w, r, http.StatusBadRequest, "object_name required")
		return
	}

	expiration, err := s.parseExpiration(query.Get("exp_min"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	log := s.log.With(
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("bucket", s.cfg.Bucket),
		zap.String("object_name", objectName),
	)
	log.Info("generating signed URL", zap.Duration("expiration", expiration))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SignTimeout)
	defer cancel()

	result, err := s.signer.SignUpload(ctx, &storage.SignRequest{
		Bucket:     s.cfg.Bucket,
		ObjectName: objectName,
		Expiration: expiration,
	})
	if err != nil {
		log.Error("failed to generate signed URL", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, signedURLResponse{SignedURL: result.SignedURL})
}

// parseExpiration turns the exp_min query value into a duration. An empty
// value selects the configured default.
func (s *Server) parseExpiration(raw string) (time.Duration, error) {
	if raw == "" {
		return s.cfg.DefaultExpiration(), nil
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 1 || minutes > s.cfg.MaxExpirationMinutes {
		return 0, fmt.Errorf("exp_min must be an integer between 1 and %d", s.cfg.MaxExpirationMinutes)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// errorResponse carries the reason a request failed.
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Detail: msg})
}
