// btcflow drives UTXO transactions through a Bitcoin Core node wallet.
//
// Usage:
//
//	btcflow [global flags] legacy        Fund legacy A, send A to B, save addresses
//	btcflow [global flags] spend         Spend saved B to C with change back to B
//	btcflow [global flags] segwit        P2SH-SegWit A' to B' to C'
//	btcflow [global flags] balance       Print the wallet balance
//	btcflow [global flags] history       List journaled transactions (--prune clears them)
//	btcflow [global flags] init-config   Write a default btcflow.conf
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/Klingon-tech/btcflow/config"
	"github.com/Klingon-tech/btcflow/internal/journal"
	"github.com/Klingon-tech/btcflow/internal/ledger"
	"github.com/Klingon-tech/btcflow/internal/lifecycle"
	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/internal/rpcclient"
	"github.com/Klingon-tech/btcflow/internal/runner"
	"github.com/Klingon-tech/btcflow/internal/storage"
)

func main() {
	os.Exit(run(os.Args))
}

// run executes the CLI and returns the process exit code.
func run(args []string) int {
	if err := newApp().Run(args); err != nil {
		log.Error().Err(err).Msg("btcflow failed")
		return 1
	}
	return 0
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "btcflow",
		Usage: "Build, sign and broadcast transactions through a Bitcoin Core wallet",
		Flags: config.Flags(),
		Commands: []*cli.Command{
			{
				Name:   "legacy",
				Usage:  "Fund legacy address A, send A to B, save the address triple",
				Action: withRunner(true, legacy),
			},
			{
				Name:   "spend",
				Usage:  "Spend the saved B address to C, keeping change at B",
				Action: withRunner(true, spend),
			},
			{
				Name:   "segwit",
				Usage:  "Run the P2SH-SegWit A' to B' to C' chain",
				Action: withRunner(true, segwit),
			},
			{
				Name:   "balance",
				Usage:  "Print the wallet balance",
				Action: withRunner(true, balance),
			},
			{
				Name:  "history",
				Usage: "List journaled transactions",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Show at most this many recent entries (0 = all)"},
					&cli.BoolFlag{Name: "prune", Usage: "Delete every journaled transaction instead of listing"},
				},
				Action: withRunner(false, history),
			},
			{
				Name:   "init-config",
				Usage:  "Write a default config file",
				Action: initConfig,
			},
		},
	}
}

type action func(ctx context.Context, c *cli.Context, r *runner.Runner) error

func legacy(ctx context.Context, _ *cli.Context, r *runner.Runner) error {
	_, err := r.Legacy(ctx)
	return err
}

func spend(ctx context.Context, _ *cli.Context, r *runner.Runner) error {
	_, err := r.Spend(ctx)
	return err
}

func segwit(ctx context.Context, _ *cli.Context, r *runner.Runner) error {
	_, err := r.Segwit(ctx)
	return err
}

func balance(ctx context.Context, _ *cli.Context, r *runner.Runner) error {
	_, err := r.Balance(ctx)
	return err
}

func history(ctx context.Context, c *cli.Context, r *runner.Runner) error {
	if c.Bool("prune") {
		_, err := r.ClearHistory(ctx)
		return err
	}
	_, err := r.History(ctx, c.Int("limit"))
	return err
}

// withRunner loads configuration, wires the components and runs fn. When
// needNode is set the node is pinged before fn runs.
func withRunner(needNode bool, fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c)
		if err != nil {
			return err
		}
		if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := setup(cfg, needNode)
		if err != nil {
			return err
		}
		defer env.close()

		return fn(ctx, c, env.runner)
	}
}

type environment struct {
	client  *rpcclient.Client
	db      storage.DB
	metrics *http.Server
	runner  *runner.Runner
}

func setup(cfg *config.Config, needNode bool) (_ *environment, err error) {
	env := &environment{}
	defer func() {
		if err != nil {
			env.close()
		}
	}()

	params, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}
	amounts, err := runner.AmountsFromConfig(cfg.Amounts)
	if err != nil {
		return nil, err
	}

	if needNode {
		if err := config.PromptPassword(cfg); err != nil {
			return nil, err
		}
	}
	env.client, err = rpcclient.New(rpcclient.Config{
		Host:   cfg.RPCAddr(),
		User:   cfg.RPC.User,
		Pass:   cfg.RPC.Password,
		Wallet: cfg.Wallet.Name,
		Params: params,
	})
	if err != nil {
		return nil, err
	}
	if needNode {
		height, err := env.client.Ping()
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("node", cfg.RPCAddr()).
			Str("network", string(cfg.Network)).
			Int64("height", height).
			Msg("Connected to node")
	}

	if cfg.Journal.Enabled {
		dir := cfg.JournalDir()
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		env.db, err = storage.NewBadger(dir)
		if err != nil {
			return nil, err
		}
	} else {
		env.db = storage.NewMemory()
	}
	j := journal.New(env.db)
	log.Debug().Bool("persistent", cfg.Journal.Enabled).Str("dir", cfg.JournalDir()).Msg("Journal opened")

	if cfg.Metrics.Addr != "" {
		env.metrics = serveMetrics(cfg.Metrics.Addr)
	}

	driver := lifecycle.New(env.client, lifecycle.Options{
		Params:   params,
		Recorder: j,
	})
	env.runner = runner.New(env.client, driver, ledger.New(cfg.Ledger.Path, env.client), runner.Options{
		Amounts:   amounts,
		Bootstrap: cfg.Wallet.Bootstrap && cfg.Network == config.Regtest,
		Journal:   j,
		Out:       os.Stdout,
	})
	return env, nil
}

func (e *environment) close() {
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = e.metrics.Shutdown(ctx)
		cancel()
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Journal close failed")
		}
	}
	if e.client != nil {
		e.client.Shutdown()
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func initConfig(c *cli.Context) error {
	network := config.Regtest
	if c.IsSet(config.FlagNetwork) {
		network = config.NetworkType(c.String(config.FlagNetwork))
	}
	cfg := config.Default(network)
	if _, err := cfg.ChainParams(); err != nil {
		return err
	}
	if c.IsSet(config.FlagDataDir) {
		cfg.DataDir = c.String(config.FlagDataDir)
	}

	path := c.String(config.FlagConfig)
	if path == "" {
		path = cfg.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := config.WriteDefaultConfig(path, network); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
