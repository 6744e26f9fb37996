// Command genheap resolves a generational heap sizing plan from the supplied
// configuration and prints it. With a listen address configured it stays up
// and serves the plan and Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/genvm/genheap/internal/config"
	heapflags "github.com/genvm/genheap/internal/flags"
	"github.com/genvm/genheap/internal/policy"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("genheap failed", "error", err)
		os.Exit(1)
	}
}

func run(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("genheap", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	jsonOut := fs.Bool("json", false, "print the sizing plan as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	store := heapflags.NewStore()
	cfg.Apply(store)

	pol, err := policy.New(store, cfg.AlignmentProvider(), logger)
	if err != nil {
		return err
	}
	if err := pol.InitializeAll(); err != nil {
		return err
	}

	if err := printPlan(out, pol.SizingPlan(), *jsonOut); err != nil {
		return err
	}

	if cfg.Server.ListenAddr == "" {
		return nil
	}
	return serve(cfg.Server.ListenAddr, pol, logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printPlan(out io.Writer, plan policy.Plan, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	res := plan.Result
	fmt.Fprintf(out, "pass %s (alignment %d)\n", plan.PassID, plan.Alignment)
	fmt.Fprintf(out, "young: min=%d initial=%d max=%d\n", res.MinYoung, res.InitialYoung, res.MaxYoung)
	fmt.Fprintf(out, "old:   min=%d initial=%d max=%d\n", res.MinOld, res.InitialOld, res.MaxOld)
	fmt.Fprintf(out, "heap:  initial=%d max=%d\n", res.InitialHeap(), res.MaxHeap())
	for _, c := range plan.Corrections {
		fmt.Fprintf(out, "corrected: %s\n", c)
	}
	return nil
}

func serve(addr string, pol *policy.Policy, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/sizing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pol.SizingPlan()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info("serving sizing plan", "addr", addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
