package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/spotdex/params"
	"github.com/uhyunpark/spotdex/pkg/api"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/spotdex/pkg/app/core/exchange"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/crypto"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/util"
	"go.uber.org/zap"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
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

	store, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Asset handles ----
	custody := common.Address{}
	var (
		client  *ethclient.Client
		signer  *crypto.Signer
		chainID = big.NewInt(cfg.Chain.ChainID)
		payout  asset.PayoutFunc
	)
	if cfg.Chain.CustodyKey != "" {
		if signer, err = crypto.FromPrivateKeyHex(cfg.Chain.CustodyKey); err != nil {
			return fmt.Errorf("custody key: %w", err)
		}
		custody = signer.Address()
	}
	if cfg.Chain.RPCURL != "" {
		if signer == nil {
			return errors.New("CHAIN_RPC_URL needs CUSTODY_KEY")
		}
		if client, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL); err != nil {
			return fmt.Errorf("dial chain: %w", err)
		}
		defer client.Close()
		payout = asset.NativePayout(client, signer.PrivateKey(), chainID, cfg.Chain.ConfirmTimeout)
	}

	native := asset.NewNativeVault(cfg.Exchange.NativeTicker, custody, payout)
	binder := asset.NewBinder(custody, native)
	if client != nil {
		binder.WithChain(client, signer.PrivateKey(), chainID, cfg.Chain.ConfirmTimeout)
	}

	nativeTicker, err := token.ParseTicker(cfg.Exchange.NativeTicker)
	if err != nil {
		return err
	}
	registry := token.NewRegistry(nativeTicker, native)

	// ---- Event pipeline ----
	hub := api.NewHub(sugar)
	sinks := events.Multi{events.NewLogSink(sugar), hub}
	var kafka *events.KafkaSink
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka = events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		sinks = append(sinks, kafka)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}
	dispatcher := events.NewDispatcher(sinks, sugar, util.RealClock{}, cfg.Events.Buffer)

	// ---- Engine ----
	engine := exchange.New(registry, store, dispatcher, sugar, exchange.Options{
		PriceDecimals: cfg.Exchange.PriceDecimals,
		Clock:         util.RealClock{},
		Resolve:       binder.Resolve,
	})
	if err := engine.Recover(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if err := bootstrap(engine, binder, cfg.Exchange, sugar); err != nil {
		return err
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go dispatcher.Run(dispatchCtx)
	go hub.Run(ctx)

	// ---- API Server ----
	opts := api.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		Bind:           binder.Resolve,
	}
	if cfg.API.AdminAddress != "" {
		if !common.IsHexAddress(cfg.API.AdminAddress) {
			return fmt.Errorf("ADMIN_ADDRESS %q is not an address", cfg.API.AdminAddress)
		}
		opts.Admin = common.HexToAddress(cfg.API.AdminAddress)
	}
	if cfg.API.DevFaucet {
		opts.Faucet = func(t token.Ticker, to common.Address, amount *uint256.Int) error {
			if registry.IsNative(t) {
				native.Fund(to, amount)
				return nil
			}
			tok, ok := binder.Memory(t.String())
			if !ok {
				return fmt.Errorf("%w: %s is not a dev token", dexerr.ErrUnknownTicker, t)
			}
			tok.Mint(to, amount)
			return nil
		}
		sugar.Warn("dev_faucet_enabled")
	}
	server := api.NewServer(engine, store, hub, sugar, opts)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start(cfg.API.Addr) }()

	sugar.Infow("node_started",
		"api_addr", cfg.API.Addr,
		"data_dir", cfg.Node.DataDir,
		"tickers", len(engine.GetTickers()),
		"open_orders", engine.OpenOrders(),
		"digest", engine.StateDigest().Hex(),
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}

	sugar.Info("node_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	engine.Close(shutdownCtx)
	dispatcher.Close()
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			sugar.Warnw("kafka_close_failed", "err", err)
		}
	}
	return nil
}

// bootstrap registers the configured tickers that are not already known and
// approves the configured quote tickers.
func bootstrap(engine *exchange.Engine, binder *asset.Binder, cfg params.Exchange, sugar *zap.SugaredLogger) error {
	register := func(name string, d asset.Descriptor) error {
		t, err := token.ParseTicker(name)
		if err != nil {
			return err
		}
		if engine.Registry().IsRegistered(t) {
			return nil
		}
		h, err := binder.Resolve(d)
		if err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
		if err := engine.RegisterTicker(t, h); err != nil && !errors.Is(err, dexerr.ErrDuplicateTicker) {
			return err
		}
		sugar.Infow("ticker_bootstrapped", "ticker", t.String(), "kind", d.Kind, "ref", d.Ref)
		return nil
	}

	for _, name := range cfg.MemoryTokens {
		if err := register(name, asset.Descriptor{Kind: asset.KindMemory, Ref: name}); err != nil {
			return err
		}
	}
	for _, name := range cfg.ERC20Symbols() {
		if err := register(name, asset.Descriptor{Kind: asset.KindERC20, Ref: cfg.ERC20Tokens[name]}); err != nil {
			return err
		}
	}
	for _, name := range cfg.QuoteTickers {
		t, err := token.ParseTicker(name)
		if err != nil {
			return err
		}
		if err := engine.ApproveQuote(t); err != nil {
			return fmt.Errorf("approve quote %s: %w", name, err)
		}
	}
	return nil
}
