package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"marketlink/internal/api"
	"marketlink/internal/broker"
	"marketlink/internal/config"
	"marketlink/internal/connection"
	"marketlink/internal/event"
	"marketlink/internal/feed"
	"marketlink/internal/limit"
	"marketlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/connector.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	// Local overrides for credentials referenced from the config file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env file", "error", err)
	}

	logger.Info("starting connector",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"rest_url", cfg.Venue.RestURL,
		"ws_url", cfg.Venue.WSURL,
		"instruments", cfg.Feed.Instruments,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Event bus ties the components together
	bus := event.NewBus(logger)
	subscribeLogging(bus, logger)

	// Fatal component errors terminate the process cleanly
	bus.Subscribe(event.TypeError, func(e event.Event) {
		if ee := e.(event.ErrorEvent); ee.Fatal {
			logger.Error("fatal component error, shutting down",
				"component", ee.Component,
				"error", ee.Err,
			)
			cancel()
		}
	})

	// REST client with shared rate limiter and retry policy
	limiter := limit.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	policy := limit.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	apiClient := api.NewClient(
		cfg.Venue.RestURL,
		cfg.Venue.APIKey,
		api.WithTimeout(cfg.Venue.Timeout),
		api.WithLimiter(limiter),
		api.WithRetryPolicy(policy),
		api.WithLogger(logger),
	)

	// Streaming connection manager
	manager := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Venue.WSURL,
		APIKey:               cfg.Venue.APIKey,
		HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Connection.HeartbeatTimeout,
		ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Connection.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.Connection.ReconnectMaxAttempts,
		WriteTimeout:         cfg.Connection.WriteTimeout,
		SendBufferSize:       cfg.Connection.SendBufferSize,
		MessageBufferSize:    cfg.Connection.MessageBufferSize,
	}, bus, logger)

	// Live data feed and order tracker
	dataFeed := feed.New(feed.Config{
		Instruments:         cfg.Feed.Instruments,
		BarInterval:         cfg.Feed.BarInterval,
		GapTolerance:        cfg.Feed.GapTolerance,
		PollInterval:        cfg.Feed.PollInterval,
		HistoryWindow:       cfg.Feed.HistoryWindow,
		BackfillOnReconnect: cfg.Feed.BackfillOnReconnect,
	}, apiClient, bus, logger)

	tracker := broker.NewTracker(broker.Config{
		Instruments:       cfg.Feed.Instruments,
		SubmitQueueSize:   cfg.Broker.SubmitQueueSize,
		ReconcileInterval: cfg.Broker.ReconcileInterval,
		OrderTimeout:      cfg.Broker.OrderTimeout,
	}, apiClient, bus, logger)

	// Route inbound frames to the component that owns them
	manager.OnMessage(func(data []byte, receivedAt time.Time) {
		switch frameType(data) {
		case "order":
			tracker.HandleVenueMessage(data, receivedAt)
		default:
			dataFeed.HandleMessage(data, receivedAt)
		}
	})

	if err := tracker.Start(ctx); err != nil {
		logger.Error("failed to start order tracker", "error", err)
		os.Exit(1)
	}

	if err := manager.Connect(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	if err := dataFeed.Start(ctx); err != nil {
		logger.Error("failed to start data feed", "error", err)
		os.Exit(1)
	}

	// Consume the merged bar stream
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			bar, err := dataFeed.Next(gctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, feed.ErrFeedTerminated) {
					return nil
				}
				return err
			}
			logger.Debug("bar",
				"instrument", bar.Instrument,
				"ts", bar.Timestamp,
				"close", bar.Close,
				"source", bar.Source,
			)
		}
	})

	logger.Info("connector running")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	// Stop in dependency order: feed first, then the connection, then the
	// tracker so in-flight order state settles last.
	dataFeed.Stop()
	if err := manager.Disconnect(); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
	tracker.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feed consumer stopped with error", "error", err)
	}

	logger.Info("connector stopped",
		"feed", dataFeed.Stats(),
		"connection", manager.Stats(),
		"orders", tracker.Stats(),
	)
}

// frameType peeks at the type discriminator of an inbound frame.
func frameType(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}

// subscribeLogging logs the cross-component event stream.
func subscribeLogging(bus *event.Bus, logger *slog.Logger) {
	bus.Subscribe(event.TypeConnection, func(e event.Event) {
		ce := e.(event.ConnectionEvent)
		if ce.Err != nil {
			logger.Warn("connection state",
				"state", ce.State,
				"attempt", ce.Attempt,
				"error", ce.Err,
			)
			return
		}
		logger.Info("connection state", "state", ce.State, "attempt", ce.Attempt)
	})

	bus.Subscribe(event.TypeData, func(e event.Event) {
		de := e.(event.DataEvent)
		if de.Kind == event.DataGap {
			logger.Warn("data gap detected",
				"instrument", de.Instrument,
				"from", de.From,
				"to", de.To,
			)
		}
	})

	bus.Subscribe(event.TypeOrder, func(e event.Event) {
		oe := e.(event.OrderEvent)
		logger.Info("order state",
			"local_ref", oe.Order.LocalRef,
			"venue_ref", oe.Order.VenueRef,
			"from", oe.Prev,
			"to", oe.Order.State,
			"filled", oe.Order.FilledQty,
		)
	})

	bus.Subscribe(event.TypeError, func(e event.Event) {
		ee := e.(event.ErrorEvent)
		if !ee.Fatal {
			logger.Warn("component error", "component", ee.Component, "error", ee.Err)
		}
	})
}
