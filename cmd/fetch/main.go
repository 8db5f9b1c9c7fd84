package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"stockdash/internal/app"
	"stockdash/internal/config"
	"stockdash/internal/logger"
	"stockdash/internal/quotefeed"
	"stockdash/internal/view"
)

func main() {
	var symbolsCSV string
	var demo bool
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated ticker symbols (default: configured watch list)")
	flag.BoolVar(&demo, "demo", false, "print a synthetic snapshot without calling the API")
	flag.IntVar(&timeout, "timeout", 60, "overall timeout seconds")
	flag.StringVar(&configPath, "config", "", "path to config.json (optional)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	// logs go to stderr so stdout stays valid JSON
	log := logger.InitTo(os.Stderr, cfg.SlogLevel())

	symbols := cfg.Symbols()
	if strings.TrimSpace(symbolsCSV) != "" {
		cfg.Feed.Symbols = strings.Split(symbolsCSV, ",")
		symbols = cfg.Symbols()
	}
	if len(symbols) == 0 {
		log.Error("no symbols provided")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	var snap quotefeed.Snapshot
	usedFallback := true
	if demo {
		snap = quotefeed.NewGenerator(nil).Snapshot(symbols)
	} else {
		feed, err := app.NewFeed(cfg, log)
		if err != nil {
			log.Error("building feed", "error", err)
			os.Exit(1)
		}
		snap, usedFallback = feed.FetchSnapshotWithFallback(ctx, symbols)
	}

	out := struct {
		Quotes       []view.Row   `json:"quotes"`
		UsedFallback bool         `json:"usedFallback"`
		Advisory     string       `json:"advisory,omitempty"`
		Summary      view.Summary `json:"summary"`
	}{
		Quotes:       view.Rows(snap),
		UsedFallback: usedFallback,
		Summary:      view.Summarize(snap),
	}
	if usedFallback {
		out.Advisory = quotefeed.DemoAdvisory
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
