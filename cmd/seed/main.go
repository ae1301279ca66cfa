package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/params"
	"github.com/uhyunpark/escrowdex/pkg/chain"
	"github.com/uhyunpark/escrowdex/pkg/seed"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

// Seeds a market. With SEED_API_URL set, transactions are signed and posted
// to a running node. Otherwise they are written straight into the journal
// at DB_PATH, which the node replays on its next start.
//
//	SEED_SCENARIO  scenario YAML, default: embedded market
//	SEED_API_URL   e.g. http://localhost:8080
func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	level, err := util.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := util.NewLogger(level)
	defer logger.Sync()
	sugar := logger.Sugar()

	sc, err := loadScenario(os.Getenv("SEED_SCENARIO"))
	if err != nil {
		sugar.Fatalw("scenario_load_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sub seed.Submitter
	if url := os.Getenv("SEED_API_URL"); url != "" {
		sub = seed.NewRemote(url)
		sugar.Infow("seed_remote", "url", url)
	} else {
		rt, err := openRuntime(cfg, sugar)
		if err != nil {
			sugar.Fatalw("runtime_init_failed", "err", err)
		}
		defer rt.Close()
		sub = seed.Local{RT: rt}
	}

	res, err := seed.NewRunner(sub, logger).Run(ctx, sc)
	if err != nil {
		sugar.Errorw("seed_failed", "err", err)
		return
	}
	for symbol, addr := range res.Tokens {
		sugar.Infow("seed_token", "symbol", symbol, "address", addr.Hex())
	}
	for name, addr := range res.Accounts {
		sugar.Infow("seed_account", "name", name, "address", addr.Hex())
	}
	sugar.Infow("seed_exchange", "address", res.Exchange.Hex())
}

func loadScenario(path string) (*seed.Scenario, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.Load(path)
}

// openRuntime opens the journal the node uses. Pebble holds a lock on the
// directory, so the node must be stopped while seeding locally.
func openRuntime(cfg params.Config, sugar *zap.SugaredLogger) (*chain.Runtime, error) {
	var journal storage.Journal = storage.NewMemJournal()
	if cfg.Node.DBPath != "" {
		pj, err := storage.NewPebbleJournal(cfg.Node.DBPath)
		if err != nil {
			return nil, err
		}
		journal = pj
		sugar.Infow("journal_opened", "path", cfg.Node.DBPath)
	} else {
		sugar.Warn("journal_in_memory - seeded state is lost on exit")
	}
	return chain.New(cfg.Genesis, chain.Options{Journal: journal, Logger: sugar})
}
