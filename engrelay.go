package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/api"
	"github.com/engagekit/engrelay/cfg"
	"github.com/engagekit/engrelay/event"
	"github.com/engagekit/engrelay/hub"
	"github.com/engagekit/engrelay/listener"
	"github.com/engagekit/engrelay/queue"
	"github.com/engagekit/engrelay/router"
	"github.com/engagekit/engrelay/sink"
	"github.com/engagekit/engrelay/store"
	"github.com/engagekit/engrelay/telemetry"
	"github.com/engagekit/engrelay/ws"
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", config.InstanceID).
		Logger()

	if config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Engrelay - Multi-tenant engagement relay")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry(config.Prometheus.Enabled, config.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core pipeline: listener -> queue -> router -> subscribers
	deliveryQueue := queue.New(config.Queue.Capacity)
	registry := hub.NewRegistry()

	mirror, err := sink.NewMirror(config.Sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sinks")
		return
	}
	defer mirror.Close()

	relay := router.New(deliveryQueue, registry, mirror)

	source := listener.NewPgSource(config.Source.DSN())
	lst := listener.New(source, deliveryQueue,
		[]string{event.ChannelInteractionChanges, event.ChannelStatusChanges},
		time.Duration(config.Source.ReconnectInitialMS)*time.Millisecond,
		time.Duration(config.Source.ReconnectMaxMS)*time.Millisecond)

	log.Info().Msg("Initializing engagement store")
	engagementStore, err := store.Open(config.Source.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open engagement store")
		return
	}
	defer engagementStore.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := engagementStore.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("Engagement store not reachable yet, continuing")
	}
	pingCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = lst.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = relay.Run(ctx)
	}()

	// Transport and REST surfaces
	wsServer := ws.NewServer(registry, config.WebSocket, config.Tenants)
	wsMux := chi.NewRouter()
	wsMux.Get("/ws", wsServer.Handler)

	apiServer := api.NewServer(engagementStore, relay, config.Tenants)

	servers := []*http.Server{
		{
			Addr:    fmt.Sprintf("%s:%d", config.WebSocket.BindAddress, config.WebSocket.Port),
			Handler: wsMux,
		},
		{
			Addr:    fmt.Sprintf("%s:%d", config.HTTP.BindAddress, config.HTTP.Port),
			Handler: apiServer.Routes(),
		},
	}

	if handler := telemetry.GetMetricsHandler(); handler != nil {
		metricsMux := chi.NewRouter()
		metricsMux.Handle("/metrics", handler)
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf("%s:%d", config.Prometheus.Address, config.Prometheus.Port),
			Handler: metricsMux,
		})
	}

	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			log.Info().Str("address", srv.Addr).Msg("Server listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Str("address", srv.Addr).Msg("Server failed")
				stop()
			}
		}(srv)
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("address", srv.Addr).Msg("Forced server close")
		}
	}
	wg.Wait()
	log.Info().Msg("Shutdown complete")
}
