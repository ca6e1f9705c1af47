package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velocitydb/velocity/admin"
	"github.com/velocitydb/velocity/cfg"
	"github.com/velocitydb/velocity/encoding"
	"github.com/velocitydb/velocity/engine"
	"github.com/velocitydb/velocity/history"
	"github.com/velocitydb/velocity/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const metricsInterval = 10 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Velocity - SQL client engine")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	opts := engine.OptionsFromConfig(cfg.Config)

	hub, detach, store := startHistory()
	defer detach()
	if hub != nil {
		defer hub.Close()
		opts.History = hub
		opts.HistoryStore = store
	}

	eng, err := engine.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
		return
	}
	defer eng.Close()

	collector := telemetry.NewMetricsCollector(eng, metricsInterval)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Admin.Enabled {
		server := admin.NewServer(admin.ServerConfig{
			Address: cfg.Config.Admin.BindAddress,
			Port:    cfg.Config.Admin.Port,
			Token:   cfg.Config.Admin.AuthToken,
			Metrics: telemetry.GetMetricsHandler(),
		}, eng)
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	log.Info().
		Str("instance_id", cfg.Config.InstanceID).
		Bool("admin", cfg.Config.Admin.Enabled).
		Bool("history", hub != nil).
		Msg("Velocity started successfully")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutting down")
}

// startHistory builds the history hub and its sinks. The returned detach
// func is always safe to call.
func startHistory() (*history.Hub, func(), *history.Store) {
	var detaches []func()
	detachAll := func() {
		for i := len(detaches) - 1; i >= 0; i-- {
			detaches[i]()
		}
	}

	hc := cfg.Config.History
	if !hc.Enabled {
		return nil, detachAll, nil
	}

	hub := history.NewHub()

	var store *history.Store
	if hc.MaxEntries > 0 {
		s, err := history.NewStore(hc.MaxEntries)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create history store")
		}
		store = s
		detaches = append(detaches, history.Attach(hub, store, history.Filter{}, hc.BufferSize))
	}

	if hc.LogEntries {
		detaches = append(detaches, history.Attach(hub, history.NewLogSink(zerolog.InfoLevel), history.Filter{}, hc.BufferSize))
	}

	// Validate has already accepted the format.
	format, _ := encoding.ParseFormat(hc.Format)

	if hc.NATSURL != "" {
		sink, err := history.NewNatsSink(hc.NATSURL, hc.NATSSubject, format)
		if err != nil {
			log.Warn().Err(err).Str("url", hc.NATSURL).Msg("History NATS sink disabled")
		} else {
			detaches = append(detaches, history.Attach(hub, sink, history.Filter{}, hc.BufferSize))
			log.Info().Str("subject", sink.Subject()).Msg("Publishing history to NATS")
		}
	}

	if len(hc.KafkaBrokers) > 0 {
		kc := history.DefaultKafkaConfig(hc.KafkaBrokers, hc.KafkaTopic)
		kc.Format = format
		sink, err := history.NewKafkaSink(kc)
		if err != nil {
			log.Warn().Err(err).Strs("brokers", hc.KafkaBrokers).Msg("History Kafka sink disabled")
		} else {
			detaches = append(detaches, history.Attach(hub, sink, history.Filter{}, hc.BufferSize))
			log.Info().Str("topic", sink.Topic()).Msg("Publishing history to Kafka")
		}
	}

	return hub, detachAll, store
}
