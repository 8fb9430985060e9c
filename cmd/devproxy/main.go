// Package main is the entry point for devproxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/cr0hn/devproxy/internal/config"
	"github.com/cr0hn/devproxy/internal/health"
	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
	"github.com/cr0hn/devproxy/internal/proxy"
)

// Version information set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		logger.Error("failed to parse configuration", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("devproxy starting",
		"version", version,
		"commit", commit,
		"date", date,
		"proxy_port", cfg.ProxyPort,
		"target_port", cfg.TargetPort,
		"metrics_port", cfg.MetricsPort,
	)

	target, err := startTarget(cfg)
	if err != nil {
		logger.Error("failed to start target process", "error", err)
		os.Exit(1)
	}

	stats := metrics.NewStatsCollector()

	var monitor *health.Monitor
	if cfg.HealthCheckEnabled {
		var checker health.Checker
		switch cfg.HealthCheckType {
		case "http":
			checker = health.NewHTTPChecker(fmt.Sprintf("http://localhost:%d%s", cfg.TargetPort, cfg.HealthCheckPath), cfg.HealthCheckTimeout)
			logger.Info("health_check_configured", "type", "http", "path", cfg.HealthCheckPath)
		default:
			checker = health.NewTCPChecker(fmt.Sprintf("localhost:%d", cfg.TargetPort), cfg.HealthCheckTimeout)
			logger.Info("health_check_configured", "type", "tcp")
		}

		monitor = health.NewMonitor(health.MonitorConfig{
			Checker:          checker,
			Interval:         cfg.HealthCheckInterval,
			Timeout:          cfg.HealthCheckTimeout,
			FailureThreshold: cfg.HealthCheckFailureThreshold,
			SuccessThreshold: cfg.HealthCheckSuccessThreshold,
		})
		monitor.Start()
	}

	proxyServer := proxy.NewServer(cfg, stats, monitor)
	metricsServer := metrics.NewServer(cfg.MetricsPort, stats, proxyServer.QueueDepth)

	var cfgWatcher *config.ConfigWatcher
	if cfg.ConfigFile != "" {
		cfgWatcher, err = config.NewConfigWatcher(cfg.ConfigFile, cfg)
		if err != nil {
			logger.Error("failed to create config watcher", "error", err)
		} else {
			cfgWatcher.RegisterCallback(func(newCfg *config.Config) {
				logger.Reconfigure(newCfg.LogLevel, newCfg.LogFormat)
			})
			if startErr := cfgWatcher.Start(); startErr != nil {
				logger.Error("failed to start config watcher", "error", startErr)
			}
		}
	}

	if cfg.MetricsPort != 0 {
		go func() {
			logger.Info("starting metrics server", "port", cfg.MetricsPort)
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	go func() {
		metricsServer.SetReady(true)
		if err := proxyServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("proxy server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh

		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading configuration")
			if cfgWatcher != nil {
				if reloadErr := cfgWatcher.Reload(); reloadErr != nil {
					logger.Error("config reload failed", "error", reloadErr)
				}
			} else {
				logger.Warn("config reload requested but no config file specified")
			}
			continue
		}

		logger.Info("received shutdown signal", "signal", sig)
		break
	}

	if cfgWatcher != nil {
		cfgWatcher.Stop()
	}

	metricsServer.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := proxyServer.Shutdown(ctx); err != nil {
		logger.Error("proxy server shutdown error", "error", err)
	}

	if monitor != nil {
		monitor.Stop()
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	stopTarget(target)

	logger.Info("devproxy stopped")
}

// targetProcess is the running target dev server, if one was spawned.
type targetProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// startTarget launches the configured target dev server command, if any.
// Spawning and lifecycle policy for the child process is external
// plumbing per spec §1; this is the minimal contract the core relies on:
// a running process on cfg.TargetPort by the time the proxy starts
// serving, and a clean termination on shutdown.
func startTarget(cfg *config.Config) (*targetProcess, error) {
	if cfg.Command == "" {
		return nil, nil
	}

	cmd := exec.Command("sh", "-c", cfg.Command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting target command %q: %w", cfg.Command, err)
	}
	logger.Info("target_process_started", "command", cfg.Command, "pid", cmd.Process.Pid)

	tp := &targetProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		defer close(tp.done)
		if err := cmd.Wait(); err != nil {
			logger.Warn("target_process_exited", "error", err)
		} else {
			logger.Info("target_process_exited")
		}
	}()

	return tp, nil
}

// stopTarget terminates a process group started by startTarget, per spec
// §6 ("terminate any spawned target process" on SIGINT/SIGTERM).
func stopTarget(tp *targetProcess) {
	if tp == nil {
		return
	}

	pgid := -tp.cmd.Process.Pid
	logger.Info("stopping target process", "pid", tp.cmd.Process.Pid)

	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		logger.Warn("target_process_sigterm_failed", "error", err)
	}

	select {
	case <-tp.done:
	case <-time.After(5 * time.Second):
		syscall.Kill(pgid, syscall.SIGKILL)
		<-tp.done
	}
}
