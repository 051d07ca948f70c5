package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sss97133/nuke-recon/internal/fetch"
	"github.com/sss97133/nuke-recon/internal/gate"
	"github.com/sss97133/nuke-recon/internal/model"
	"github.com/sss97133/nuke-recon/internal/monitoring"
	"github.com/sss97133/nuke-recon/internal/vin"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reconciliation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Images != nil {
			go func() {
				if err := env.Images.Run(ctx, pollInterval()); err != nil && ctx.Err() == nil {
					zap.L().Error("image pipeline stopped", zap.Error(err))
				}
			}()
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		r := newRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *engineEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/vehicles/{id}/submissions", handleSubmit(env))
		r.Post("/vehicles/{id}/fields/{field}", handlePropose(env))
		r.Get("/vehicles/{id}/fields/{field}/provenance", handleProvenance(env))
		r.Get("/vehicles/{id}/images", handleImages(env))
		r.Post("/transfers/{id}/verify", handleVerifyTransfer(env))
		r.Get("/stats", handleStats(env))
	})

	return r
}

func handleSubmit(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SubmitterID string `json:"submitter_id"`
			Text        string `json:"text"`
			Origin      string `json:"origin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Text == "" || req.SubmitterID == "" {
			writeError(w, http.StatusBadRequest, "text and submitter_id are required")
			return
		}

		res, err := env.Engine.SubmitText(r.Context(), chi.URLParam(r, "id"), req.SubmitterID, req.Text, req.Origin)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

func handlePropose(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Value       string `json:"value"`
			SubmitterID string `json:"submitter_id"`
			SourceKind  string `json:"source_kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Value == "" || req.SubmitterID == "" {
			writeError(w, http.StatusBadRequest, "value and submitter_id are required")
			return
		}

		entry, err := env.Engine.ProposeValue(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "field"),
			req.Value, req.SubmitterID, model.SourceKind(req.SourceKind))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func handleProvenance(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := env.Resolver.Resolve(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "field"),
			r.URL.Query().Get("viewer"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleImages(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := env.Store.ListImageClaims(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if claims == nil {
			claims = []model.ImageClaim{}
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

func handleStats(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookback := 24
		if s := r.URL.Query().Get("lookback_hours"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
				return
			}
			lookback = n
		}
		snap, err := env.Collector.Collect(r.Context(), lookback)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleVerifyTransfer(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transfer, err := env.Engine.VerifyTransfer(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, transfer)
	}
}

// statusFor maps the error taxonomy onto HTTP statuses: gate rejections and
// invalid identifiers are the client's problem, everything else is ours.
func statusFor(err error) int {
	switch {
	case eris.Is(err, gate.ErrIdentifierMismatch),
		eris.Is(err, gate.ErrAmbiguous),
		eris.Is(err, gate.ErrListingIdentifierInvalid),
		eris.Is(err, gate.ErrUnverifiable),
		eris.Is(err, gate.ErrTargetIdentifierInvalid):
		return http.StatusConflict
	case eris.Is(err, vin.ErrInvalid):
		return http.StatusUnprocessableEntity
	case eris.Is(err, fetch.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pollInterval() time.Duration {
	return time.Duration(cfg.Images.PollIntervalSecs) * time.Second
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
