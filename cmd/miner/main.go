package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/flashbots/go-utils/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tonyke-bot/ore-miner/miner"
	"github.com/tonyke-bot/ore-miner/ore"
)

var (
	version = "dev" // is set during build process

	// Default values
	defaultDebug       = os.Getenv("DEBUG") == "1"
	defaultLogProd     = os.Getenv("LOG_PROD") == "1"
	defaultRPCEndpoint = cli.GetEnv("RPC_ENDPOINT", "https://api.mainnet-beta.solana.com")
	defaultTipStream   = cli.GetEnv("TIP_STREAM_ENDPOINT", "ws://bundles-api-rest.jito.wtf/api/v1/bundles/tip_stream")
	defaultRelayConfig = cli.GetEnv("RELAY_CONFIG", "relay.yaml")
	defaultMetricsPort = cli.GetEnv("METRICS_PORT", "8088")
	defaultSolverPath  = cli.GetEnv("SOLVER_PATH", "")

	// Flags
	debugPtr       = flag.Bool("debug", defaultDebug, "print debug output")
	logProdPtr     = flag.Bool("log-prod", defaultLogProd, "log in production mode (json)")
	rpcPtr         = flag.String("rpc", defaultRPCEndpoint, "ledger rpc endpoint")
	tipStreamPtr   = flag.String("tip-stream", defaultTipStream, "tip percentile stream endpoint")
	relayConfigPtr = flag.String("relay-config", defaultRelayConfig, "relay config file")
	modePtr        = flag.String("mode", "bundle-mine", "operating mode: bundle-mine, bundle-mine-pooled, claim, tip-stream")
	keyFolderPtr   = flag.String("key-folder", "", "folder that contains all signing keys")
	solverPathPtr  = flag.String("solver-path", defaultSolverPath, "external solver binary; empty uses the in-process cpu solver")
	threadsPtr     = flag.Int("threads", 4, "solver thread budget")
	concurrencyPtr = flag.Int("concurrency", 1, "max workers mid-mining-cycle at once (fixed mode)")
	maxBusesPtr    = flag.Int("max-buses", 2, "max buses to submit to per cycle")
	batchSizePtr   = flag.Int("batch-size", 25, "identities per batch")
	baseTipPtr     = flag.Uint64("base-tip", 0, "relay tip in lamports; required")
	maxTipPtr      = flag.Uint64("max-adaptive-tip", 0, "adaptive tip cap in lamports; 0 disables adaptive bidding")
	tipFloorPtr    = flag.Uint64("tip-floor", 30000, "adaptive tip floor in lamports")
	beneficiaryPtr = flag.String("beneficiary", "", "claim beneficiary address (claim mode)")
	thresholdPtr   = flag.Float64("claim-threshold", 0, "claim only batches above this reward amount (claim mode)")
	autoClaimPtr   = flag.Bool("auto-claim", false, "keep claiming on a fixed interval (claim mode)")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	if *logProdPtr {
		atom := zap.NewAtomicLevel()
		if *debugPtr {
			atom.SetLevel(zap.DebugLevel)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		logger = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			atom,
		))
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ore-miner", zap.String("version", version), zap.String("mode", *modePtr))

	ctx, ctxCancel := context.WithCancel(context.Background())
	go func() {
		notifier := make(chan os.Signal, 1)
		signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)
		<-notifier
		logger.Info("Shutting down...")
		ctxCancel()
	}()

	go serveMetrics(logger)

	tips := miner.NewTipFeed(logger, *tipStreamPtr)
	tips.Subscribe(ctx)

	if *modePtr == "tip-stream" {
		tips.LogLoop(ctx, 5*time.Second)
		return
	}

	chain := miner.NewJSONRPCChainClient(*rpcPtr)
	snapshot, err := miner.WaitReady(ctx, logger, chain)
	if err != nil {
		logger.Fatal("Chain endpoint never became ready", zap.Error(err))
	}
	logger.Info("Chain endpoint ready",
		zap.Uint64("slot", snapshot.Clock.Slot),
		zap.Float64("reward_rate", ore.UIAmount(snapshot.Treasury.RewardRate)),
	)

	relayConfig, err := miner.LoadRelayConfig(*relayConfigPtr)
	if err != nil {
		logger.Fatal("Failed to load relay config", zap.Error(err))
	}
	relay, err := miner.NewRelayClient(relayConfig)
	if err != nil {
		logger.Fatal("Failed to create relay client", zap.Error(err))
	}

	var solver miner.Solver
	if *solverPathPtr != "" {
		solver = &miner.ProcessSolver{Path: *solverPathPtr, Threads: *threadsPtr}
	} else {
		solver = &miner.CPUSolver{Threads: *threadsPtr}
	}

	engine, err := miner.NewEngine(logger, chain, relay, tips, solver, miner.Config{
		Threads:        *threadsPtr,
		Concurrency:    *concurrencyPtr,
		MaxBuses:       *maxBusesPtr,
		BatchSize:      *batchSizePtr,
		BaseTip:        *baseTipPtr,
		MaxAdaptiveTip: *maxTipPtr,
		TipFloor:       *tipFloorPtr,
	})
	if err != nil {
		logger.Fatal("Invalid miner config", zap.Error(err))
	}

	if *keyFolderPtr == "" {
		logger.Fatal("Key folder is required")
	}
	identities, err := miner.LoadIdentities(*keyFolderPtr)
	if err != nil {
		logger.Fatal("Failed to load identities", zap.Error(err))
	}
	logger.Info("Keys loaded", zap.Int("count", len(identities)))

	switch *modePtr {
	case "bundle-mine":
		err = engine.RunFixed(ctx, identities)
	case "bundle-mine-pooled":
		err = engine.RunPooled(ctx, identities)
	case "claim":
		if *beneficiaryPtr == "" {
			logger.Fatal("Beneficiary is required in claim mode")
		}
		beneficiary, parseErr := ore.ParsePubkey(*beneficiaryPtr)
		if parseErr != nil {
			logger.Fatal("Invalid beneficiary address", zap.Error(parseErr))
		}
		threshold := uint64(*thresholdPtr * 1e9)
		err = engine.RunClaim(ctx, identities, miner.ClaimConfig{
			Beneficiary: beneficiary,
			Threshold:   threshold,
			Auto:        *autoClaimPtr,
		})
	default:
		logger.Fatal("Unknown mode", zap.String("mode", *modePtr))
	}
	if err != nil {
		logger.Fatal("Miner exited with error", zap.Error(err))
	}
}

func serveMetrics(logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	port, err := strconv.Atoi(defaultMetricsPort)
	if err != nil {
		logger.Fatal("Invalid metrics port", zap.Error(err))
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
}
