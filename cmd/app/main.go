package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"RegimeDuel/internal/di"
	"RegimeDuel/pkg/config"
)

func init() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s sensor=%s execution=%s instruments=%v",
		cfg.Environment, cfg.Sensor.Mode, cfg.Engine.Execution, cfg.Engine.Instruments)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT or SIGTERM
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
