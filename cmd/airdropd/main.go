package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/birdlabs/airdrop/pkg/allocation"
	"github.com/birdlabs/airdrop/pkg/campaign"
	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/configstore"
	"github.com/birdlabs/airdrop/pkg/distribute"
	"github.com/birdlabs/airdrop/pkg/eligibility"
	"github.com/birdlabs/airdrop/pkg/ledger"
	"github.com/birdlabs/airdrop/pkg/logger"
	"github.com/birdlabs/airdrop/pkg/metrics"
	"github.com/birdlabs/airdrop/pkg/notify"
	"github.com/birdlabs/airdrop/pkg/pg"
	"github.com/birdlabs/airdrop/pkg/server"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := pflag.Bool("verbose", false, "Enable verbose (debug) logging")
	listenAddrFlag := pflag.String("listen-addr", defaultListenAddr, "Address to listen on for the HTTP API")
	pgFlag := pflag.String("pg", os.Getenv("AIRDROP_PG_CONNSTR"), "Postgres connection string; empty runs with in-memory stores")
	migrateFlag := pflag.Bool("migrate", true, "Run schema migrations on startup")
	shutdownTimeoutFlag := pflag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")
	pflag.Parse()

	// Missing .env is fine; env vars may come from the environment directly.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     version,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	var (
		ledgerStore   ledger.Store
		balances      ledger.Balances
		eligStore     eligibility.Store
		campaignStore campaign.Store
		tierContracts campaign.TierContractStore
		kvStore       configstore.Store
	)
	if *pgFlag != "" {
		pool, err := pg.New(ctx, pg.Config{Logger: log, ConnStr: *pgFlag, Migrate: *migrateFlag})
		if err != nil {
			return err
		}
		defer pool.Close()

		if ledgerStore, err = ledger.NewPGStore(ledger.PGStoreConfig{Logger: log, Pool: pool}); err != nil {
			return err
		}
		if balances, err = ledger.NewPGBalances(log, pool); err != nil {
			return err
		}
		if eligStore, err = eligibility.NewPGStore(log, pool); err != nil {
			return err
		}
		if campaignStore, err = campaign.NewPGStore(log, pool); err != nil {
			return err
		}
		if tierContracts, err = campaign.NewPGTierContractStore(log, pool); err != nil {
			return err
		}
		if kvStore, err = configstore.NewPGStore(log, pool); err != nil {
			return err
		}
	} else {
		log.Warn("no postgres connection string configured, using in-memory stores")
		ledgerStore = ledger.NewMemoryStore()
		balances = ledger.NewMemoryBalances()
		eligStore = eligibility.NewMemoryStore()
		campaignStore = campaign.NewMemoryStore()
		tierContracts = campaign.NewMemoryTierContractStore()
		kvStore = configstore.NewMemoryStore(nil)
	}

	cfg, err := configstore.New(kvStore)
	if err != nil {
		return err
	}

	dispatchers, readers, err := buildDispatchers(log)
	if err != nil {
		return err
	}

	led, err := ledger.New(ledger.Config{Logger: log, Store: ledgerStore, Balances: balances})
	if err != nil {
		return err
	}

	evaluator, err := eligibility.NewEvaluator(eligibility.EvaluatorConfig{
		Logger:  log,
		Readers: readers,
		Config:  cfg,
	})
	if err != nil {
		return err
	}
	verifier, err := eligibility.NewVerifier(log, evaluator, eligStore)
	if err != nil {
		return err
	}

	calculator, err := allocation.NewCalculator(allocation.Config{
		Logger:        log,
		Ledger:        led,
		TierContracts: tierContracts,
		Vesting:       cfg,
	})
	if err != nil {
		return err
	}

	participants := notify.NewLogNotifier(log)
	var operator notify.Notifier
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		operator, err = notify.NewSlackNotifier(notify.SlackNotifierConfig{
			Logger:  log,
			Token:   token,
			Channel: os.Getenv("SLACK_OPS_CHANNEL"),
		})
		if err != nil {
			return err
		}
	}

	orchestrator, err := distribute.New(distribute.Config{
		Logger:          log,
		Ledger:          led,
		Eligibility:     eligStore,
		TierContracts:   tierContracts,
		Dispatchers:     dispatchers,
		Participants:    participants,
		Operator:        operator,
		DefaultContract: os.Getenv("TOKEN_CONTRACT_ADDRESS"),
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Verifier:        verifier,
		Eligibility:     eligStore,
		Calculator:      calculator,
		Orchestrator:    orchestrator,
		Ledger:          led,
		Campaigns:       campaignStore,
		TierContracts:   tierContracts,
		Config:          cfg,
	})
	if err != nil {
		return err
	}

	log.Info("airdropd starting", "version", version, "commit", commit, "chains", chainNames(dispatchers))
	return srv.Run(ctx)
}

// buildDispatchers constructs one dispatcher per chain that has an RPC
// endpoint configured in the environment. Dispatchers that read balances also
// serve the eligibility evaluator.
func buildDispatchers(log *slog.Logger) (map[chain.Chain]chain.Dispatcher, map[chain.Chain]chain.BalanceReader, error) {
	dispatchers := make(map[chain.Chain]chain.Dispatcher)

	for _, c := range []chain.Chain{chain.ETH, chain.BSC} {
		rpcURL := os.Getenv(string(c) + "_RPC_URL")
		if rpcURL == "" {
			continue
		}
		d, err := chain.NewEVMDispatcher(chain.EVMDispatcherConfig{
			Logger:        log,
			Chain:         c,
			RPCURL:        rpcURL,
			SenderAddress: os.Getenv(string(c) + "_SENDER_ADDRESS"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build %s dispatcher: %w", c, err)
		}
		dispatchers[c] = d
	}

	if rpcURL := os.Getenv("SOL_RPC_URL"); rpcURL != "" {
		d, err := chain.NewSOLDispatcher(chain.SOLDispatcherConfig{
			Logger:           log,
			RPCURL:           rpcURL,
			SenderPrivateKey: os.Getenv("SOL_SENDER_PRIVATE_KEY"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build SOL dispatcher: %w", err)
		}
		dispatchers[chain.SOL] = d
	}

	if rpcURL := os.Getenv("XRP_RPC_URL"); rpcURL != "" {
		d, err := chain.NewXRPDispatcher(chain.XRPDispatcherConfig{
			Logger:        log,
			RPCURL:        rpcURL,
			SenderAddress: os.Getenv("XRP_SENDER_ADDRESS"),
			SenderSeed:    os.Getenv("XRP_SENDER_SEED"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build XRP dispatcher: %w", err)
		}
		dispatchers[chain.XRP] = d
	}

	if len(dispatchers) == 0 {
		return nil, nil, fmt.Errorf("no chain configured; set at least one of ETH_RPC_URL, BSC_RPC_URL, SOL_RPC_URL, XRP_RPC_URL")
	}

	readers := make(map[chain.Chain]chain.BalanceReader, len(dispatchers))
	for c, d := range dispatchers {
		if r, ok := d.(chain.BalanceReader); ok {
			readers[c] = r
		}
	}
	return dispatchers, readers, nil
}

func chainNames(dispatchers map[chain.Chain]chain.Dispatcher) []string {
	names := make([]string, 0, len(dispatchers))
	for c := range dispatchers {
		names = append(names, string(c))
	}
	return names
}
