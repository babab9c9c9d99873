package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamevault/internal/importer"
	"gamevault/internal/ingest"
	"gamevault/internal/library"
	"gamevault/internal/models"
	"gamevault/internal/progress"
	"gamevault/internal/ratelimit"
	"gamevault/internal/server"
	"gamevault/internal/steam"
	"gamevault/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.LibraryDir, 0755); err != nil {
		log.Fatalf("failed to create library dir: %v", err)
	}
	lib := library.New(cfg.LibraryDir)

	// One limiter for every scraper in the process; Steam rate limits by
	// origin, not by session.
	limiter := ratelimit.NewLimiter(time.Duration(cfg.ImportRateMs) * time.Millisecond)

	bus := progress.NewBus(db)
	worker := ingest.NewWorker(db, lib, cfg.ThumbnailQuality)

	factory := func(creds steam.Credentials) importer.Scraper {
		return steam.NewScraper(creds, limiter)
	}
	engine := importer.NewEngine(db, worker, bus, factory)

	srv := server.NewServer(cfg, db, lib, worker, engine, factory)

	go func() {
		log.Printf("gamevault listening on %s", cfg.ServerAddr)
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
}
