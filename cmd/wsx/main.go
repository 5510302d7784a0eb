package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/exchange"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/report"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

const usage = `usage:
  wsx send -message '{"uri":"/tokens","method":"POST"}' [-endpoint URL] [-count N] [-timeout D] [-strict] [-env FILE] [-debug]
  wsx serve [-addr :8080] [-debug]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error

	switch os.Args[1] {
	case "send":
		var params sendParams
		if !params.Read(os.Args[2:]) {
			os.Exit(2)
		}
		err = runSend(ctx, params)

	case "serve":
		var params serveParams
		if !params.Read(os.Args[2:]) {
			os.Exit(2)
		}
		err = runServe(ctx, params)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runSend(ctx context.Context, params sendParams) error {
	if params.endpoint != "" {
		// Переменная окружения важнее значений из .env файлов.
		if err := os.Setenv(exchange.EnvEndpoint, params.endpoint); err != nil {
			return err
		}
	}

	cfg, err := exchange.ConfigFromEnv(params.envFiles...)
	if err != nil {
		return err
	}

	if params.strict {
		cfg.StrictWaiting = true
	}

	sink := &report.CapturingSink{}
	cfg.Logger = newLogger(params.debug)
	cfg.Sink = sink

	if params.debug {
		defer sink.Dump(os.Stderr, "  ")
	}

	msg, err := ws.ParseMessage(params.message)
	if err != nil {
		return fmt.Errorf("invalid -message: %w", err)
	}

	ex, err := exchange.New(cfg)
	if err != nil {
		return err
	}
	defer ex.Close()

	var opts []exchange.CallOption
	if params.timeout > 0 {
		opts = append(opts, exchange.WithTimeout(params.timeout))
	}

	res, err := ex.SendAndWait(ctx, msg, params.count, opts...)
	for _, m := range res.All {
		fmt.Println(m.String())
	}

	return err
}

func runServe(ctx context.Context, params serveParams) error {
	logger := newLogger(params.debug)

	cfg := ws.DefaultServerConfig()
	cfg.Logger = logger
	cfg.NotFound = ws.Echo

	srv := &http.Server{
		Addr:              params.addr,
		Handler:           ws.NewServer(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("echo peer listening", "addr", params.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	}
}
