// Command auditor runs the offline MEV-refund auditor: for each block in a
// configured range it ingests candidate bundles, simulates the actual and
// optimal refund combinations, and alerts on any shortfall. Flag handling
// follows cmd/utils/flags_rollup.go's urfave/cli/v2 idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/rylaix/backrun-auditor/internal/alert"
	"github.com/rylaix/backrun-auditor/internal/analytics"
	"github.com/rylaix/backrun-auditor/internal/auditor"
	"github.com/rylaix/backrun-auditor/internal/config"
	"github.com/rylaix/backrun-auditor/internal/ingest"
	"github.com/rylaix/backrun-auditor/internal/logging"
	"github.com/rylaix/backrun-auditor/internal/ratelimit"
	"github.com/rylaix/backrun-auditor/internal/rpcclient"
	"github.com/rylaix/backrun-auditor/internal/secrets"
	"github.com/rylaix/backrun-auditor/internal/simulate"
	"github.com/rylaix/backrun-auditor/internal/store"
	"github.com/rylaix/backrun-auditor/internal/telemetry"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to the auditor's YAML configuration file",
	Value:    "config.yaml",
	Required: false,
}

func main() {
	app := &cli.App{
		Name:  "auditor",
		Usage: "offline MEV-refund compliance auditor",
		Flags: []cli.Flag{configFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("auditor: fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateBlockRange(); err != nil {
		return err
	}

	creds, err := secrets.Load()
	if err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}

	closer, err := logging.Setup(cfg.DataStorage.LogsDirectory, cfg.DataStorage.LogFilename)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()

	telemetryHandler, telemetryCloser, err := logging.NewTelemetryHandler(cfg.DataStorage.LogsDirectory, "simulation_timings.log")
	if err != nil {
		return fmt.Errorf("setting up telemetry log: %w", err)
	}
	defer telemetryCloser.Close()
	telemetryRecorder := telemetry.NewRecorder(telemetryHandler)

	ctx := context.Background()

	gate := ratelimit.New(cfg.RateLimitHandling.CallsPerMinute)
	rpc, err := rpcclient.Dial(ctx, creds.RPCNodeURL, gate, rpcPolicy(cfg))
	if err != nil {
		return fmt.Errorf("connecting to RPC endpoint: %w", err)
	}
	defer rpc.Close()

	db, err := store.Open(cfg.DataStorage.DatabaseFile, cfg.DataStorage.SimulationOutputDirectory)
	if err != nil {
		return fmt.Errorf("opening persistence store: %w", err)
	}
	defer db.Close()

	// start_block_offset anchors against the current chain head (spec.md
	// §6); only fetch it when the config actually uses the offset, since it
	// costs an extra RPC round-trip every run otherwise.
	var latestBlock uint64
	if cfg.StartBlockOffset > 0 {
		latestBlock, err = rpc.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("fetching latest block number: %w", err)
		}
	}
	startBlock, endBlock := cfg.ResolvedRange(latestBlock)
	if startBlock > endBlock {
		return fmt.Errorf("config: resolved start_block (%d) is greater than resolved end_block (%d)", startBlock, endBlock)
	}

	queries, err := vendoredQueries(cfg.VendoredQueriesDirectory)
	if err != nil {
		return fmt.Errorf("loading vendored queries: %w", err)
	}
	analyticsClient := analytics.New(creds.AnalyticsAPIKey, pollInterval(cfg), cfg.ValidateSQL, queries)
	bundleSource := &blockRangeBundleSource{
		client:                 analyticsClient,
		queryID:                cfg.BundleQueryID,
		startBlock:             startBlock,
		endBlock:               endBlock,
		abortOnEmptyFirstQuery: cfg.AbortOnEmptyFirstQuery,
	}

	pipeline := ingest.New(rpc, bundleSource, db, cfg.PerformanceTuning.ResolvedMaxProcesses())
	if err := pipeline.Run(ctx, startBlock, endBlock); err != nil {
		return fmt.Errorf("running ingestion pipeline: %w", err)
	}

	simulator := simulate.New(rpc, db, telemetryRecorder)
	sinks := alert.New(creds.TelegramBotToken, creds.TelegramChatID, creds.SlackWebhookURL)
	runtime := auditor.New(db, simulator, sinks, cfg)

	blockDelay := secondsToDuration(cfg.BlockDelaySeconds)
	for blockNumber := startBlock; blockNumber <= endBlock; blockNumber++ {
		if err := runtime.AuditBlock(ctx, blockNumber); err != nil {
			log.Error("auditor: block audit failed, continuing", "block", blockNumber, "error", err)
		}
		if blockDelay > 0 && blockNumber < endBlock {
			time.Sleep(blockDelay)
		}
	}

	return nil
}

func rpcPolicy(cfg *config.Config) rpcclient.RetryPolicy {
	return rpcclient.RetryPolicy{
		MaxRetries:         cfg.RateLimitHandling.MaxRetries,
		InitialDelay:       secondsToDuration(cfg.RateLimitHandling.InitialDelaySeconds),
		ExponentialBackoff: cfg.RateLimitHandling.ExponentialBackoff,
		EnableRetry:        cfg.RateLimitHandling.EnableRetry,
	}
}
