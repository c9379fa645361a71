// feedtap connects to the order gateway and streams parsed notifications
// to the console. Useful for verifying gateway access and watching a
// session's traffic during development.
//
// Usage: go run ./cmd/feedtap --endpoint wss://gateway.mealato.com --identity biz-1 --role business
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mealato/orderfeed/internal/connection"
	"github.com/mealato/orderfeed/internal/consumer"
	"github.com/mealato/orderfeed/internal/event"
)

func main() {
	endpoint := flag.String("endpoint", "https://api.mealato.com", "gateway base URL or ws(s) endpoint")
	identity := flag.String("identity", "", "account identity to subscribe as")
	role := flag.String("role", connection.RoleBusiness, "session role: business, courier, customer or admin")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *identity == "" {
		logger.Error("an identity is required, pass --identity")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// A tap is always its own leader; there is no standby tap.
	svc := connection.NewService(connection.DefaultServiceConfig(), nil, logger)
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start connection service", "error", err)
		os.Exit(1)
	}

	target := connection.Config{
		Identity: *identity,
		Role:     *role,
		Enabled:  true,
	}
	// Explicit ws(s) endpoints skip scheme derivation.
	if strings.HasPrefix(*endpoint, "ws://") || strings.HasPrefix(*endpoint, "wss://") {
		target.WSURL = *endpoint
	} else {
		target.BaseURL = *endpoint
	}
	svc.Configure(target)

	tap := consumer.New("feedtap", svc, logger)
	tap.Init(func(env event.Envelope) {
		printFrame(env, *verbose)
	})

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				state := tap.State()
				logger.Info("stats",
					"status", state.Status,
					"connected", state.Connected,
					"attempt", state.Attempt,
					"last_connected_at", state.LastConnectedAt,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop",
		"endpoint", *endpoint,
		"identity", *identity,
		"role", *role,
	)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	svc.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printFrame(env event.Envelope, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(env, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), data)
		return
	}

	switch env.Type {
	case event.TypeOrderNotification:
		n, err := env.OrderNotification()
		if err != nil {
			fmt.Printf("[ORDER] unparseable payload: %v\n", err)
			return
		}
		fmt.Printf("[ORDER] event=%s order_id=%s received=%s\n",
			n.EventType, n.OrderID(), env.ReceivedAt.Format(time.RFC3339))
	case event.TypeSubscribed:
		fmt.Printf("[SUBSCRIBED] %s\n", env.Data)
	default:
		fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), env.Data)
	}
}
