// Package main writes the demo tour into the configured document store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/panotour/internal/config"
	"github.com/onnwee/panotour/internal/db"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/scene"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file (environment variables take precedence)")
	imageBase := flag.String("images", "./public", "base URL or path the demo panoramas are served from")
	flag.Parse()

	if *help {
		fmt.Println("Panotour Seeder")
		fmt.Println()
		fmt.Println("Writes a three-room demo tour unless it already exists.")
		fmt.Println()
		fmt.Println("Usage: seed [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	env := config.DefaultEnv
	if cfg != nil {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, *imageBase, logger); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, imageBase string, logger *slog.Logger) error {
	store, _, err := db.Open(ctx, db.OptionsFromConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	seeded, err := scene.NewRepository(store, logger).SeedDemo(ctx, imageBase)
	if err != nil {
		return err
	}
	if !seeded {
		logger.Info("demo tour already present", "scenario_id", scene.DemoScenarioID)
		return nil
	}
	logger.Info("demo tour written", "scenario_id", scene.DemoScenarioID, "driver", cfg.DocstoreDriver)
	return nil
}
