package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dramline/caskwatch/internal/cycle"
)

var (
	servePort  int
	serveEvery time.Duration
)

// cycleRunner is the slice of cycle.Runner the HTTP surface needs.
type cycleRunner interface {
	Run(ctx context.Context, kind cycle.Kind) (*cycle.Summary, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cycle trigger server",
	Long:  "Serves POST /cycle/{kind} for on-demand cycles and optionally runs live cycles on a fixed interval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runner, err := initRunner(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(runner),
		}

		if serveEvery > 0 {
			go runScheduled(ctx, runner, serveEvery)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Duration("every", serveEvery))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveEvery, "every", 0, "run a live cycle on this interval (e.g. 30m); 0 disables")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the trigger API. Cycles run synchronously: the caller
// gets the summary, or 409 when one of the same kind is already in flight.
func newRouter(runner cycleRunner) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/cycle/{kind}", func(w http.ResponseWriter, req *http.Request) {
		kind, ok := cycle.ParseKind(chi.URLParam(req, "kind"))
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown cycle kind"})
			return
		}

		summary, err := runner.Run(req.Context(), kind)
		if err != nil {
			if eris.Is(err, cycle.ErrCycleBusy) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "cycle already running"})
				return
			}
			zap.L().Error("triggered cycle failed", zap.String("kind", string(kind)), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, summary)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runScheduled runs live cycles on a fixed interval until ctx is done. A
// busy gate or failed cycle is logged and the schedule keeps going.
func runScheduled(ctx context.Context, runner cycleRunner, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := runner.Run(ctx, cycle.KindLive); err != nil {
				zap.L().Warn("scheduled cycle skipped", zap.Error(err))
			}
		}
	}
}
