// Copyright 2024-2026 Aiku AI

// Command slackflow runs a single bridge session against a Slack-compatible
// real-time backend and streams its dressed events to stdout as JSON lines.
// It is the reference consumer for the bridge packages; flow engines embed
// pkg/bridge directly instead.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/aiku/slackflow/pkg/bridge"
	"github.com/aiku/slackflow/pkg/rtm"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}
	log.Info().Str("tag", Tag).Str("commit", Commit).Str("build_time", BuildTime).
		Msg("Starting slackflow")

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	registry := bridge.NewRegistry(log)
	session, err := registry.Session(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}

	transitions, cancelTransitions := session.SubscribeTransitions()
	defer cancelTransitions()
	go func() {
		for tr := range transitions {
			log.Info().Stringer("from", tr.From).Stringer("to", tr.To).
				Msg("Connection state changed")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case sig := <-sigs:
			log.Info().Stringer("signal", sig).Msg("Shutting down")
			if err := registry.Close(); err != nil {
				log.Error().Err(err).Msg("Shutdown error")
			}
			return
		case evt, ok := <-session.Events():
			if !ok {
				log.Info().Msg("Session closed, exiting")
				return
			}
			printEvent(enc, log, evt)
		}
	}
}

// printEvent writes one event as a JSON line, tagging lifecycle-only events
// that carry no payload.
func printEvent(enc *json.Encoder, log zerolog.Logger, evt rtm.Event) {
	out := evt.Data
	if out == nil {
		out = map[string]any{"type": evt.Type}
	}
	if err := enc.Encode(out); err != nil {
		log.Warn().Err(err).Str("type", evt.Type).Msg("Failed to encode event")
	}
}
