// Command drivescore runs a self-contained demonstration of the
// confidential score ledger: it submits a stretch of daily encrypted
// scores to an in-process backend, then authorizes decryption and reveals
// the driver's own aggregates.
//
// Usage:
//
//	drivescore [flags]
//
// Flags:
//
//	--days       Number of simulated days to submit (default: 14)
//	--skip       Skip every Nth day to demonstrate streak resets (0 = never)
//	--verbosity  Log level 0-5 (default: 3)
//	--metrics    Print collected metrics on exit (default: false)
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GroupPritaa/DriveScore/auth"
	"github.com/GroupPritaa/DriveScore/chain"
	"github.com/GroupPritaa/DriveScore/core"
	"github.com/GroupPritaa/DriveScore/fhe"
	"github.com/GroupPritaa/DriveScore/log"
	"github.com/GroupPritaa/DriveScore/metrics"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0"
var version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// localSigner approves authorization payloads with the wallet key held in
// this process. A real client would prompt the user's wallet instead.
type localSigner struct {
	key *ecdsa.PrivateKey
}

func (s *localSigner) SignAuthorization(ctx context.Context, principal common.Address, payload common.Hash) ([]byte, error) {
	return crypto.Sign(payload[:], s.key)
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	fs := flag.NewFlagSet("drivescore", flag.ContinueOnError)
	days := fs.Int("days", 14, "number of simulated days to submit")
	skip := fs.Int("skip", 0, "skip every Nth day (0 = never)")
	verbosity := fs.Int("verbosity", 3, "log level 0-5")
	showMetrics := fs.Bool("metrics", false, "print collected metrics on exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := log.New(verbosityToLevel(*verbosity))
	log.SetDefault(logger)
	logger.Info("drivescore demo starting", "version", version, "days", *days)

	cop := fhe.NewMockCoprocessor()

	walletKey, err := crypto.GenerateKey()
	if err != nil {
		logger.Error("generate wallet key", "err", err)
		return 1
	}
	driver := crypto.PubkeyToAddress(walletKey.PublicKey)
	admin := common.HexToAddress("0x00000000000000000000000000000000000000ad")
	contract := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	// Drive the backend on a simulated clock, one submission per day.
	clock := uint64(1_700_000_000)
	cfg := chain.DefaultLocalBackendConfig()
	cfg.Ledger.Admin = admin
	cfg.Ledger.Contract = contract
	cfg.Now = func() uint64 { return clock }
	backend := chain.NewLocalBackend(cop, cfg, logger)

	sub := backend.Subscribe(core.EventStreakChanged)
	defer sub.Unsubscribe()

	for day := 0; day < *days; day++ {
		if *skip > 0 && day > 0 && day%*skip == 0 {
			logger.Info("skipping a day", "day", day)
			clock += core.CadenceSeconds
		}
		score := 60 + uint64(day*7)%40
		if err := backend.Submit(driver, cop.Encrypt(score), core.DistanceCategory(1+day%3)); err != nil {
			logger.Error("submission failed", "day", day, "err", err)
			return 1
		}
		clock += core.CadenceSeconds + 600
	}

	stats := backend.Statistics(driver)
	logger.Info("ledger statistics",
		"principal", driver.Hex(),
		"submissions", stats.SubmissionCount,
		"streak_days", stats.StreakDays,
	)

	// Authorize and reveal the driver's own values.
	authorizer := auth.NewAuthorizer(cop, &localSigner{key: walletKey}, auth.DefaultAuthorizerConfig(), logger)
	authz, err := authorizer.LoadOrSign(context.Background(), driver, []common.Address{contract})
	if err != nil {
		logger.Error("authorization failed", "err", err)
		return 1
	}

	total, count := backend.Aggregate(driver)
	reqs := []fhe.DecryptRequest{{Handle: total, Contract: contract}}
	if trend, err := backend.Trend(driver); err == nil {
		reqs = append(reqs, fhe.DecryptRequest{Handle: trend, Contract: contract})
	}
	if latest, err := backend.Latest(driver); err == nil {
		reqs = append(reqs, fhe.DecryptRequest{Handle: latest.Score, Contract: contract})
	}

	values, err := authorizer.DecryptBatch(context.Background(), authz, reqs)
	if err != nil {
		logger.Error("decryption failed", "err", err)
		return 1
	}
	logger.Info("decrypted values", "unlocked", len(values), "requested", len(reqs))

	if v, ok := values[total]; ok && count > 0 {
		fmt.Printf("total score over %d days: %s (average %d)\n", count, v.Dec(), v.Uint64()/count)
	}

	for _, ev := range drained(sub.Chan()) {
		data := ev.Data.(core.StreakEvent)
		logger.Debug("streak event", "days", data.Days)
	}

	if *showMetrics {
		exporter := metrics.NewExporter(nil, metrics.DefaultExporterConfig())
		fmt.Print(exporter.Render())
	}
	return 0
}

// drained returns the events already buffered on ch without blocking.
func drained(ch <-chan core.Event) []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// verbosityToLevel maps the geth-style 0-5 verbosity scale onto slog
// levels.
func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2, v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
