// Command reportwatch archives spreadsheet reports from a public data
// portal, keeping only content that actually changed.
//
// Usage:
//
//	reportwatch -config reportwatch.yaml              # discover + harvest once
//	reportwatch -config reportwatch.yaml -urls a,b    # harvest given URLs
//	reportwatch -config reportwatch.yaml -serve :8080 # status API daemon
//	reportwatch -config reportwatch.yaml -mcp         # MCP server on stdio
//	reportwatch -config reportwatch.yaml -discover    # list links, no fetch
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/civichub/reportwatch/clamav"
	"github.com/civichub/reportwatch/discover"
	"github.com/civichub/reportwatch/harvest"
	"github.com/civichub/reportwatch/runlog"
)

func main() {
	configPath := flag.String("config", "", "path to reportwatch.yaml")
	urls := flag.String("urls", "", "comma-separated report URLs (skips discovery)")
	serveAddr := flag.String("serve", "", "status API listen address (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdio")
	discoverOnly := flag.Bool("discover", false, "print discovered links and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *urls, *serveAddr, *mcpStdio, *discoverOnly); err != nil {
		logger.Error("reportwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, urls, serveAddr string, mcpStdio, discoverOnly bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if discoverOnly {
		return runDiscover(ctx, logger, cfg)
	}

	var recorder *runlog.Log
	if cfg.Runlog != "" {
		recorder, err = runlog.Open(cfg.Runlog)
		if err != nil {
			return fmt.Errorf("open runlog: %w", err)
		}
		defer recorder.Close()
	}

	scanner := clamav.New(cfg.ClamdAddr)
	opts := []harvest.ServiceOption{harvest.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, harvest.WithRecorder(recorder))
	}
	svc, err := harvest.New(cfg.Harvest, scanner, opts...)
	if err != nil {
		return fmt.Errorf("harvest service: %w", err)
	}

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "reportwatch",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(srv)
		logger.Info("MCP server on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	if serveAddr == "" {
		serveAddr = cfg.Serve
	}
	if serveAddr != "" {
		return runServe(ctx, logger, cfg, svc, recorder, serveAddr)
	}

	return runOnce(ctx, logger, cfg, svc, urls)
}

// runOnce is the cron entry point: one discovery (unless -urls), one
// harvest, report JSON on stdout. A flock keeps overlapping cron slots
// from racing on the archive.
func runOnce(ctx context.Context, logger *slog.Logger, cfg *Config, svc *harvest.Service, urls string) error {
	lock := flock.New(cfg.LockFile)
	held, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("run lock: %w", err)
	}
	if !held {
		return errors.New("another reportwatch run holds the lock")
	}
	defer lock.Unlock()

	var locators []string
	if urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				locators = append(locators, u)
			}
		}
	} else {
		locators, err = discoverLinks(ctx, logger, cfg)
		if err != nil {
			return err
		}
	}
	if len(locators) == 0 {
		logger.Info("nothing to harvest")
		return nil
	}

	report, err := svc.Run(ctx, locators)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *Config, svc *harvest.Service, recorder *runlog.Log, addr string) error {
	locate := func() ([]string, error) {
		return discoverLinks(ctx, logger, cfg)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(svc, recorder, locate, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status API listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runDiscover(ctx context.Context, logger *slog.Logger, cfg *Config) error {
	links, err := discoverLinks(ctx, logger, cfg)
	if err != nil {
		return err
	}
	for _, l := range links {
		fmt.Println(l)
	}
	return nil
}

// discoverLinks runs the configured discoverer and, when a snapshot file is
// set, logs which links are new since the previous discovery and saves the
// current set.
func discoverLinks(ctx context.Context, logger *slog.Logger, cfg *Config) ([]string, error) {
	d, err := newDiscoverer(cfg, logger)
	if err != nil {
		return nil, err
	}
	links, err := d.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	if cfg.Discovery.Snapshot != "" {
		snap := discover.NewSnapshot(cfg.Discovery.Snapshot)
		fresh, err := snap.NewSince(links)
		if err != nil {
			logger.Warn("snapshot read failed", "error", err)
		} else {
			logger.Info("portal links", "total", len(links), "new", len(fresh))
		}
		if err := snap.Save(links); err != nil {
			logger.Warn("snapshot save failed", "error", err)
		}
	}
	return links, nil
}

func newDiscoverer(cfg *Config, logger *slog.Logger) (discover.Discoverer, error) {
	switch cfg.Discovery.Mode {
	case "static":
		return discover.NewStatic(cfg.Discovery.Roots, cfg.Discovery.Filter, logger)
	case "browser":
		return discover.NewPortal(cfg.Discovery.Roots, cfg.Discovery.Filter, cfg.Discovery.Browser, logger)
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", cfg.Discovery.Mode)
	}
}
