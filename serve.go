package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/taskboard/pkg/api"
	"github.com/harrisonrobin/taskboard/pkg/authority"
	"github.com/harrisonrobin/taskboard/pkg/board"
	"github.com/harrisonrobin/taskboard/pkg/colors"
	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/google"
	"github.com/harrisonrobin/taskboard/pkg/index"
	"github.com/harrisonrobin/taskboard/pkg/metrics"
	"github.com/harrisonrobin/taskboard/pkg/sla"
)

const snapshotFile = "snapshot.json"

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the board: deadline monitor, HTTP API and calendar mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := setupLogger(cfg.Env)
	if cfg.Env != config.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}
	snapshot := cfg.Snapshot
	if snapshot == "" {
		snapshot = filepath.Join(dir, snapshotFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	remote, err := authority.NewClient(ctx, authority.Options{
		BaseURL: cfg.Authority.BaseURL,
		Credentials: authority.Credentials{
			ClientID:     cfg.Authority.ClientID,
			ClientSecret: cfg.Authority.ClientSecret,
			TokenURL:     cfg.Authority.TokenURL,
			Scopes:       cfg.Authority.Scopes,
		},
		Timeout:           cfg.Authority.Timeout.Std(),
		RequestsPerSecond: cfg.Authority.RequestsPerSecond,
		Burst:             cfg.Authority.Burst,
		Log:               log,
	})
	if err != nil {
		return fmt.Errorf("failed to create authority client: %w", err)
	}

	policy := sla.Default().WithOverrides(cfg.SLA.Overrides())
	b := board.New(remote, board.Options{
		Policy:        policy,
		TickInterval:  cfg.Monitor.TickInterval.Std(),
		CommitTimeout: cfg.Monitor.CommitTimeout.Std(),
		Metrics:       m,
		Log:           log,
	})

	if err := b.Load(ctx); err != nil {
		log.WithError(err).Warn("authority unreachable, warm-starting from snapshot")
		if serr := b.LoadSnapshot(snapshot); serr != nil {
			return fmt.Errorf("failed to load board: %w", errors.Join(err, serr))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var calendar *google.CalendarClient
	if cfg.Mirror.Enabled {
		calendar, err = newCalendar(gctx, cfg, dir, policy, log)
		if err != nil {
			log.WithError(err).Error("calendar mirror disabled")
		} else {
			mirror := google.NewMirror(calendar, log, google.MirrorOptions{RequestsPerSecond: cfg.Mirror.RequestsPerSecond})
			b.Subscribe(mirror.Observe)
			g.Go(func() error {
				mirror.Run(gctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		b.Run(gctx)
		return nil
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(api.NewHandler(b, log), reg),
	}
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("shutting down")

	b.Close()
	if serr := b.SaveSnapshot(snapshot); serr != nil {
		log.WithError(serr).Warn("failed to save board snapshot")
	}
	if calendar != nil {
		if ferr := calendar.Flush(); ferr != nil {
			log.WithError(ferr).Warn("failed to save calendar caches")
		}
	}
	return err
}

func newCalendar(ctx context.Context, cfg *config.Config, dir string, policy sla.Policy, log *logrus.Entry) (*google.CalendarClient, error) {
	idx, err := index.NewEventIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open event index: %w", err)
	}
	palette, err := colors.NewColorCache(dir)
	if err != nil {
		log.WithError(err).Warn("could not load owner colors, starting fresh")
		palette = nil
	}
	return google.NewClient(ctx, cfg.Calendar, policy, idx, palette)
}
