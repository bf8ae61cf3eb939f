package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvreeden/gridsim/internal/config"
	"github.com/mvreeden/gridsim/internal/db"
	"github.com/mvreeden/gridsim/internal/observability"
	"github.com/mvreeden/gridsim/internal/orchestrator"
	"github.com/mvreeden/gridsim/internal/queue"
	"github.com/mvreeden/gridsim/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and job orchestrator",
		Long:  "Serves the job API, worker status callbacks and archive ingestion, and periodically re-enqueues stale pending work items.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gridsim.yaml", "path to gridsim config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := gormDB.AutoMigrate(db.AllModels()...); err != nil {
		return fmt.Errorf("serve: migrate schema: %w", err)
	}

	q, err := queue.DialBeanstalk(cfg.Queue.Addr, cfg.Queue.Tube, time.Duration(cfg.Queue.TTR)*time.Second)
	if err != nil {
		return fmt.Errorf("serve: queue: %w", err)
	}
	defer q.Close()

	logger := log.New(os.Stderr, "gridsim ", log.LstdFlags)
	registry := prometheus.NewRegistry()
	orch := &orchestrator.Orchestrator{
		DB:      gormDB,
		Queue:   q,
		BaseURL: cfg.Server.BaseURL,
		DataDir: cfg.Server.DataDir,
		Logger:  logger,
		Metrics: observability.NewMetrics(registry),
	}

	scanner := cron.New()
	_, err = scanner.AddFunc(fmt.Sprintf("@every %s", cfg.Requeue.Interval), func() {
		n, err := orch.RequeueStale(cfg.Requeue.StaleAfter)
		if err != nil {
			logger.Printf("requeue scan: %v", err)
			return
		}
		if n > 0 {
			logger.Printf("requeue scan: re-enqueued %d stale work items", n)
		}
	})
	if err != nil {
		return fmt.Errorf("serve: requeue schedule: %w", err)
	}
	scanner.Start()
	defer scanner.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("serving on :%d (queue %s tube %s)", cfg.Server.Port, cfg.Queue.Addr, cfg.Queue.Tube)
	return server.Start(ctx, server.StartOpts{
		Orchestrator: orch,
		Port:         cfg.Server.Port,
		Registry:     registry,
	})
}
