package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/equipets/api/rest"
	"github.com/kasuganosora/equipets/api/sse"
	"github.com/kasuganosora/equipets/archive"
	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/game/care"
	mw "github.com/kasuganosora/equipets/middleware"
	"github.com/kasuganosora/equipets/plugin/hook"
	"github.com/kasuganosora/equipets/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.close()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// registerHooks forwards care events to SSE and keeps the ranking set current.
func (a *app) registerHooks() {
	sse.RegisterHooks(a.hooks, a.pubsub, a.logger)
	a.hooks.Register(hook.AfterMaintenance, 50, "ranking", func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		if res, ok := data.(*care.MaintenanceResult); ok {
			if err := a.board.Update(ctx, res.Outcome.Record); err != nil {
				a.logger.Warn("ranking update failed", zap.String("machine_id", res.Outcome.Record.ID), zap.Error(err))
			}
		}
		return data, nil
	})
}

// registerTasks adds the periodic jobs to sched.
func (a *app) registerTasks(ctx context.Context, sched *scheduler.Scheduler) {
	sched.AddTicker("process_pending", a.cfg.Worker.ProcessInterval, func(ctx context.Context) error {
		_, err := a.care.ProcessPending(audit.WithTraceID(ctx, ""))
		return err
	})
	// The decay ticker fires more often than the period; the gate keeps it
	// to one run per period across restarts and replicas.
	decayEvery := a.cfg.Decay.Interval / 24
	if decayEvery < time.Minute {
		decayEvery = time.Minute
	}
	sched.AddTicker("decay", decayEvery, func(ctx context.Context) error {
		_, _, err := a.care.DecayTick(ctx, a.cfg.Decay.Interval)
		return err
	})
	sched.AddTicker("ranking_refresh", a.cfg.Ranking.RefreshInterval, func(ctx context.Context) error {
		_, err := a.board.Refresh(ctx)
		return err
	})

	if !a.cfg.Archive.Enabled {
		return
	}
	arc, err := archive.New(ctx, a.cfg.Archive, a.logger)
	if err != nil {
		a.logger.Warn("snapshot archive disabled", zap.Error(err))
		return
	}
	sched.AddTicker("snapshot_archive", a.cfg.Archive.Interval, func(ctx context.Context) error {
		rows, err := a.store.ListEquipment(ctx)
		if err != nil {
			return err
		}
		_, err = arc.Upload(ctx, rows)
		return err
	})
}

// router builds the gin engine with every route mounted.
func (a *app) router(ctx context.Context, sched *scheduler.Scheduler) (*gin.Engine, error) {
	adminGuard, err := mw.IPAllowlist(a.cfg.Security.AdminAllow)
	if err != nil {
		return nil, fmt.Errorf("security.admin_allow: %w", err)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(a.logger, "/health"), mw.Recovery(a.logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(a.cfg.Security.RateLimitRPS), a.cfg.Security.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": VersionString()})
	})

	apirest.RegisterRoutes(r.Group("/api"), apirest.Handlers{
		Equipment:  apirest.NewEquipmentHandler(a.store, a.care, a.logger),
		Ranking:    apirest.NewRankingHandler(a.board, a.logger),
		Admin:      apirest.NewAdminHandler(a.store, a.care, sched, a.audit, a.cfg.Decay.Interval, a.logger),
		AdminGuard: adminGuard,
	})

	sseH := sse.NewHandler(a.pubsub, a.logger)
	r.GET("/sse", sseH.ServeSSE)
	return r, nil
}

// serve runs the HTTP server and scheduler until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	if !a.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	a.registerHooks()
	sched := scheduler.New(a.logger)
	defer sched.Stop()
	a.registerTasks(ctx, sched)

	if _, err := a.board.Refresh(ctx); err != nil {
		a.logger.Warn("initial ranking refresh failed", zap.Error(err))
	}

	r, err := a.router(ctx, sched)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end when ctx is cancelled, so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
