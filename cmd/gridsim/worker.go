package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mvreeden/gridsim/internal/config"
	"github.com/mvreeden/gridsim/internal/queue"
	"github.com/mvreeden/gridsim/internal/script"
	"github.com/mvreeden/gridsim/internal/worker"
	"github.com/spf13/cobra"
)

const pingInterval = 30 * time.Second

func newWorkerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker loop",
		Long:  "Reserves work items from the queue, runs the model runtime, reports status and uploads result archives until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gridsim.yaml", "path to gridsim config file")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Worker.Runtime == "" {
		return fmt.Errorf("worker: worker.runtime is not configured")
	}

	q, err := queue.DialBeanstalk(cfg.Queue.Addr, cfg.Queue.Tube, time.Duration(cfg.Queue.TTR)*time.Second)
	if err != nil {
		return fmt.Errorf("worker: queue: %w", err)
	}
	defer q.Close()

	logger := log.New(os.Stderr, "gridsim-worker ", log.LstdFlags)
	w := &worker.Worker{
		Queue:          q,
		Engine:         script.NewExecEngine(cfg.Worker.Runtime),
		Client:         worker.NewClient(30 * time.Second),
		DataDir:        cfg.Worker.DataDir,
		ReserveTimeout: cfg.Worker.ReserveTimeout,
		Logger:         logger,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pingLoop(ctx, cfg.Server.BaseURL, logger)

	logger.Printf("watching %s tube %s", cfg.Queue.Addr, cfg.Queue.Tube)
	return w.Run(ctx)
}

// pingLoop announces this worker to the orchestrator so it shows up in
// the worker listing next to the queue's own watcher count.
func pingLoop(ctx context.Context, baseURL string, logger *log.Logger) {
	id := uuid.NewString()
	hostname, _ := os.Hostname()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ping := func() {
		body, _ := json.Marshal(map[string]string{"uuid": id, "hostname": hostname})
		resp, err := http.Post(baseURL+"/worker/ping", "application/json", bytes.NewReader(body))
		if err != nil {
			logger.Printf("ping: %v", err)
			return
		}
		resp.Body.Close()
	}

	ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping()
		}
	}
}
