package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  name: gridsim_prod
  user: gridsim
  password: hunter2

queue:
  addr: 10.0.0.6:11300
  tube: simjobs
  ttr: 900

server:
  port: 8500
  base_url: https://sim.example.org/api/v1
  data_dir: /var/lib/gridsim

worker:
  data_dir: /scratch/gridsim
  runtime: /usr/local/bin/mapalg
  reserve_timeout: 30s

requeue:
  interval: 2m
  stale_after: 20m
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Database.Port != 3307 {
		t.Errorf("Database.Port = %d, want 3307", cfg.Database.Port)
	}
	if cfg.Queue.Tube != "simjobs" {
		t.Errorf("Queue.Tube = %q, want simjobs", cfg.Queue.Tube)
	}
	if cfg.Queue.TTR != 900 {
		t.Errorf("Queue.TTR = %d, want 900", cfg.Queue.TTR)
	}
	if cfg.Server.BaseURL != "https://sim.example.org/api/v1" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Worker.ReserveTimeout != 30*time.Second {
		t.Errorf("Worker.ReserveTimeout = %v, want 30s", cfg.Worker.ReserveTimeout)
	}
	if cfg.Requeue.StaleAfter != 20*time.Minute {
		t.Errorf("Requeue.StaleAfter = %v, want 20m", cfg.Requeue.StaleAfter)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Queue.Addr != "127.0.0.1:11300" {
		t.Errorf("Queue.Addr = %q", cfg.Queue.Addr)
	}
	if cfg.Queue.Tube != "gridsimjobs" {
		t.Errorf("Queue.Tube = %q", cfg.Queue.Tube)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:5000/api/v1" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Requeue.Interval != time.Minute {
		t.Errorf("Requeue.Interval = %v, want 1m", cfg.Requeue.Interval)
	}
}

func TestParse_BadDriver(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\n"))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_StaleShorterThanInterval(t *testing.T) {
	_, err := Parse([]byte("requeue:\n  interval: 10m\n  stale_after: 1m\n"))
	if err == nil {
		t.Fatal("expected error for stale_after < interval")
	}
	if !strings.Contains(err.Error(), "stale_after") {
		t.Errorf("error = %q", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridsim.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8500 {
		t.Errorf("Server.Port = %d, want 8500", cfg.Server.Port)
	}
}
