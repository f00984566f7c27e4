package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/x402-foundation/x402-multiversx"
	facilitatorhttp "github.com/x402-foundation/x402-multiversx/http"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx/exact/facilitator"
	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx/proxy"
	"github.com/x402-foundation/x402-multiversx/pkg/config"
	"github.com/x402-foundation/x402-multiversx/pkg/logger"
	"github.com/x402-foundation/x402-multiversx/pkg/metrics"
	"github.com/x402-foundation/x402-multiversx/settlement"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Output: cfg.Log.Output, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settlement.Open(settlement.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN, Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to open settlement store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close settlement store", zap.Error(err))
		}
	}()

	gateway, err := proxy.New(log, nil, proxy.Config{URL: cfg.Network.ProxyURL, Timeout: cfg.Network.RequestTimeout})
	if err != nil {
		return err
	}
	checkChain(ctx, log, gateway, cfg.Network.ChainID)

	scheme, err := buildScheme(cfg, log, gateway, store)
	if err != nil {
		return err
	}

	m := metrics.New()
	network := x402.NetworkForChain(cfg.Network.ChainID)
	f := x402.Newx402Facilitator().
		Register(network, scheme).
		OnAfterVerify(m.AfterVerify).
		OnVerifyFailure(m.OnVerifyFailure).
		OnAfterSettle(m.AfterSettle).
		OnSettleFailure(m.OnSettleFailure).
		OnAfterSettle(func(c x402.FacilitatorSettleResultContext) error {
			log.Info("settle completed",
				zap.String("network", string(c.Network)),
				zap.String("payer", c.Result.Payer),
				zap.String("txHash", c.Result.TxHash),
				zap.Duration("duration", c.Duration),
			)
			return nil
		}).
		OnSettleFailure(func(c x402.FacilitatorSettleFailureContext) error {
			log.Warn("settle rejected",
				zap.String("network", string(c.Network)),
				zap.String("payer", c.Payer()),
				zap.String("reason", x402.ReasonOf(c.Error)),
				zap.Error(c.Error),
			)
			return nil
		})

	sweeper, err := settlement.NewSweeper(store,
		settlement.WithSweepInterval(cfg.Sweeper.Interval),
		settlement.WithSweepTimeout(cfg.Sweeper.Timeout),
		settlement.WithSweepLogger(log),
		settlement.WithSweepObserver(m.ObserveSweep),
	)
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start expiry sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Error("failed to stop expiry sweeper", zap.Error(err))
		}
	}()

	server := facilitatorhttp.NewServer(f,
		facilitatorhttp.WithLogger(log),
		facilitatorhttp.WithTimeouts(cfg.Server.VerifyTimeout, cfg.Server.SettleTimeout),
		facilitatorhttp.WithMetricsHandler(m.Handler()),
		facilitatorhttp.WithRequestObserver(m.ObserveRequest),
	)

	log.Info("starting x402 facilitator",
		zap.String("network", string(network)),
		zap.String("proxy", cfg.Network.ProxyURL),
		zap.String("store", cfg.Store.Driver),
		zap.String("broadcast", string(scheme.Mode())),
		zap.Bool("simulate", cfg.Network.Simulate),
	)
	return server.Run(ctx, ":"+cfg.Server.Port)
}

func buildScheme(cfg *config.Config, log *zap.Logger, gateway *proxy.Client, store settlement.Store) (*facilitator.ExactMultiversXScheme, error) {
	sigVerifier, err := multiversx.NewEd25519Verifier(multiversx.SignatureMode(cfg.Network.SignatureMode))
	if err != nil {
		return nil, err
	}

	var simulator multiversx.Simulator
	if cfg.Network.Simulate {
		simulator = gateway
	}
	verifier := facilitator.NewVerifier(sigVerifier, simulator, facilitator.WithVerifierLogger(log.Named("verifier")))

	var strategy facilitator.BroadcastStrategy
	broadcastLog := facilitator.WithBroadcastLogger(log.Named("broadcast"))
	if cfg.Relayer.Enabled() {
		relayer, err := loadRelayer(cfg.Relayer)
		if err != nil {
			return nil, err
		}
		log.Info("relayed broadcast enabled", zap.String("relayer", relayer.Address()))
		strategy = facilitator.NewRelayedBroadcast(gateway, relayer, broadcastLog)
	} else {
		strategy = facilitator.NewDirectBroadcast(gateway, broadcastLog)
	}

	settler := facilitator.NewSettler(store, strategy,
		facilitator.WithDispatchTimeout(cfg.Network.RequestTimeout),
		facilitator.WithSettlerLogger(log.Named("settler")),
	)
	return facilitator.NewExactMultiversXScheme(verifier, settler), nil
}

func loadRelayer(cfg config.RelayerConfig) (*multiversx.Ed25519Signer, error) {
	if cfg.PEMFile != "" {
		signer, err := multiversx.LoadEd25519SignerPEM(cfg.PEMFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load relayer pem: %w", err)
		}
		return signer, nil
	}
	signer, err := multiversx.NewEd25519SignerFromHex(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer secret key: %w", err)
	}
	return signer, nil
}

// checkChain warns when the gateway serves a different chain than configured
func checkChain(ctx context.Context, log *zap.Logger, gateway *proxy.Client, chainID string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	netCfg, err := gateway.NetworkConfig(ctx)
	if err != nil {
		log.Warn("could not fetch gateway network config", zap.Error(err))
		return
	}
	if netCfg.ChainID != chainID {
		log.Warn("gateway chain differs from configured chain",
			zap.String("gateway", netCfg.ChainID),
			zap.String("configured", chainID),
		)
	}
}
