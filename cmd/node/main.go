package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/params"
	"github.com/uhyunpark/escrowdex/pkg/api"
	"github.com/uhyunpark/escrowdex/pkg/crypto"
	"github.com/uhyunpark/escrowdex/pkg/exchange"
	"github.com/uhyunpark/escrowdex/pkg/publish"
	"github.com/uhyunpark/escrowdex/pkg/storage"
	"github.com/uhyunpark/escrowdex/pkg/token"
	"github.com/uhyunpark/escrowdex/pkg/units"
	"github.com/uhyunpark/escrowdex/pkg/util"
)

// Devnet token contract, minted to the deployer on first boot
var dappAddress = common.HexToAddress("0xDA00000000000000000000000000000000000001")

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	kv, err := storage.NewPebbleKV(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	journal, err := storage.NewFileWAL(cfg.Node.CallJournal)
	if err != nil {
		return fmt.Errorf("open call journal: %w", err)
	}
	defer journal.Close()

	// ---- Collaborator ledgers ----
	native := token.NewNative(kv)
	dapp := token.New(kv, dappAddress, "DApp Token", "DAPP", 18)
	registry := token.NewRegistry()
	if err := registry.Register(dapp); err != nil {
		return err
	}
	if err := seedDevnet(ctx, cfg.Devnet, native, dapp, sugar); err != nil {
		return fmt.Errorf("seed devnet: %w", err)
	}

	// ---- Exchange ----
	if !common.IsHexAddress(cfg.Exchange.Address) || !common.IsHexAddress(cfg.Exchange.FeeAccount) {
		return fmt.Errorf("invalid exchange or fee account address")
	}
	exCfg := exchange.Config{
		Address:    common.HexToAddress(cfg.Exchange.Address),
		FeeAccount: common.HexToAddress(cfg.Exchange.FeeAccount),
		FeePercent: cfg.Exchange.FeePercent,
	}
	directory := exchange.TokenDirectoryFunc(func(addr common.Address) (exchange.TokenLedger, bool) {
		t, ok := registry.Lookup(addr)
		if !ok {
			return nil, false
		}
		return t, true
	})
	ex, err := exchange.New(kv, exCfg, native, directory)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ex.Logger = sugar
	ex.Metrics = exchange.NewMetrics(promRegistry)

	if err := ex.VerifyEventLog(); err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	count, err := ex.OrderCount()
	if err != nil {
		return err
	}
	sugar.Infow("exchange_opened",
		"address", exCfg.Address.Hex(),
		"fee_account", exCfg.FeeAccount.Hex(),
		"fee_percent", exCfg.FeePercent,
		"order_count", count)

	// ---- Event publisher (optional) ----
	// Enable with: KAFKA_BROKERS=localhost:9092
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := publish.NewPublisher(publish.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), 4096, sugar)
		ex.Subscribe(publisher)
		go func() {
			if err := publisher.Run(ctx); err != nil {
				sugar.Errorw("event_publisher_failed", "err", err)
			}
		}()
		sugar.Infow("event_publisher_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- API Server ----
	callSigner := crypto.NewCallSigner(crypto.NewDomain(cfg.Node.ChainID, exCfg.Address))
	apiServer := api.NewServer(ex, registry, api.NewAuthenticator(kv, callSigner), api.Options{
		ChainID:  cfg.Node.ChainID,
		Journal:  journal,
		Logger:   sugar,
		Registry: promRegistry,
	})
	ex.Subscribe(apiServer.Hub())

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start(cfg.Node.APIAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	sugar.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// seedDevnet mints the devnet token supply and faucet balances. Both are
// no-ops once the ledgers have supply.
func seedDevnet(ctx context.Context, cfg params.Devnet, native, dapp *token.Token, sugar *zap.SugaredLogger) error {
	if !common.IsHexAddress(cfg.Deployer) {
		return fmt.Errorf("invalid deployer %q", cfg.Deployer)
	}
	minted, err := dapp.Genesis(ctx, common.HexToAddress(cfg.Deployer), units.MustEther("1000000"))
	if err != nil {
		return err
	}
	if minted {
		sugar.Infow("devnet_token_minted", "token", dapp.Symbol(), "to", cfg.Deployer, "amount", "1000000")
	}

	supply, err := native.TotalSupply(ctx)
	if err != nil {
		return err
	}
	if !supply.IsZero() {
		return nil
	}
	for addr, amount := range cfg.Faucet {
		if !common.IsHexAddress(addr) {
			sugar.Warnw("devnet_faucet_skipped", "address", addr, "reason", "invalid address")
			continue
		}
		v, err := units.ParseAmount(amount, units.EtherDecimals)
		if err != nil {
			sugar.Warnw("devnet_faucet_skipped", "address", addr, "reason", err)
			continue
		}
		if err := native.Mint(ctx, common.HexToAddress(addr), v); err != nil {
			return err
		}
		sugar.Infow("devnet_faucet_funded", "address", addr, "amount", units.Format(v, units.EtherDecimals))
	}
	return nil
}
