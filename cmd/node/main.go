package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/escrowdex/params"
	"github.com/uhyunpark/escrowdex/pkg/api"
	"github.com/uhyunpark/escrowdex/pkg/chain"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	level, err := util.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", level.String())

	// ---- Journal ----
	var journal storage.Journal = storage.NewMemJournal()
	if cfg.Node.DBPath != "" {
		pj, err := storage.NewPebbleJournal(cfg.Node.DBPath)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Node.DBPath, "err", err)
		}
		journal = pj
		sugar.Infow("journal_opened", "path", cfg.Node.DBPath)
	} else {
		sugar.Warn("journal_in_memory - state is lost on exit")
	}

	// ---- Runtime (replays the journal) ----
	rt, err := chain.New(cfg.Genesis, chain.Options{Journal: journal, Logger: sugar})
	if err != nil {
		sugar.Fatalw("runtime_init_failed", "err", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	server := api.NewServer(rt, api.Config{CORSOrigins: cfg.API.CORSOrigins}, sugar)
	sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr, "cors_origins", cfg.API.CORSOrigins)
	if err := server.Run(ctx, cfg.Node.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorw("api_server_failed", "err", err)
		return
	}
	sugar.Infow("node_stopped", "head", rt.Head())
}
