package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"codin-bootstrap/internal/config"
	"codin-bootstrap/internal/database"
	"codin-bootstrap/internal/logger"
	"codin-bootstrap/internal/runner"
	"codin-bootstrap/internal/schema"
	"codin-bootstrap/internal/sweep"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const successMessage = "CODIN MSA databases and collections created successfully!"

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	exitCode = run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("codin-bootstrap", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "config.yaml", "path to the YAML config file")
	dbType := flags.String("db", "mongo", "database type (mongo, postgres, or mysql)")
	modeName := flags.String("mode", "apply", "apply, plan, verify, or sweep")
	only := flags.String("only", "", "comma-separated logical databases to provision (default all)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		return 1
	}
	logger.InitLogger(cfg.Log.Level)

	manifest, err := loadManifest(cfg, *only)
	if err != nil {
		log.Error("Failed to load schema", "err", err)
		return 1
	}

	mode, ok := runner.ParseMode(*modeName)
	if !ok && *modeName != "sweep" {
		log.Error("Unsupported mode", "mode", *modeName)
		return 1
	}

	driver, err := database.New(*dbType)
	if err != nil {
		log.Error("Unsupported database type", "db", *dbType, "err", err)
		return 1
	}
	dsn, err := cfg.Databases.DSN(*dbType)
	if err != nil {
		log.Error("Missing connection string", "err", err)
		return 1
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Bootstrap.OpTimeout)
	err = driver.Connect(connectCtx, dsn)
	cancel()
	if err != nil {
		log.Error("Failed to connect", "db", *dbType, "err", err)
		return 1
	}
	defer func() {
		if err := driver.Close(context.Background()); err != nil {
			log.Warn("Failed to close connection", "db", *dbType, "err", err)
		}
	}()

	if *modeName == "sweep" {
		if err := runSweeper(ctx, driver, manifest, cfg); err != nil {
			log.Error("TTL sweeper failed", "err", err)
			return 1
		}
		return 0
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Bootstrap.Timeout)
	defer cancel()

	report, err := runner.Run(runCtx, driver, manifest, runner.Options{
		Mode:      mode,
		Prefix:    cfg.Bootstrap.Prefix,
		OpTimeout: cfg.Bootstrap.OpTimeout,
	})
	if report != nil {
		out, merr := json.MarshalIndent(report, "", "  ")
		if merr != nil {
			log.Error("Failed to marshal report", "err", merr)
			return 1
		}
		fmt.Fprintln(stdout, string(out))
	}
	if err != nil {
		log.Error("Provisioning failed", "mode", mode, "err", err)
		return 1
	}

	if mode == runner.ModeApply {
		fmt.Fprintln(stdout, successMessage)
	}
	return 0
}

func loadManifest(cfg *config.Config, only string) (*schema.Manifest, error) {
	var manifest *schema.Manifest
	var err error
	if cfg.Bootstrap.SchemaFile != "" {
		manifest, err = schema.Load(cfg.Bootstrap.SchemaFile)
	} else {
		manifest, err = schema.Default()
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, n := range strings.Split(only, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return manifest.Select(names)
}

// runSweeper enforces TTL indexes on backends that lack native expiry,
// until SIGINT or SIGTERM.
func runSweeper(ctx context.Context, driver database.DatabaseDriver, manifest *schema.Manifest, cfg *config.Config) error {
	sweeper, ok := driver.(database.Sweeper)
	if !ok {
		return errors.Wrapf(database.ErrUnsupported, "%s expires documents natively, no sweeper needed", driver.Name())
	}

	mgr, err := sweep.NewManager(sweeper, manifest, cfg.Bootstrap.Prefix, cfg.Sweep.Schedule, cfg.Bootstrap.OpTimeout)
	if err != nil {
		return err
	}
	if err := mgr.RegisterJobs(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweepCtx, sweepCancel := context.WithTimeout(ctx, cfg.Bootstrap.OpTimeout)
		defer sweepCancel()
		if _, err := mgr.SweepOnce(sweepCtx); err != nil {
			return err
		}
		mgr.Start()
		<-ctx.Done()
		mgr.Stop()
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-ctx.Done():
		case sig := <-quit:
			log.Info("Received signal, shutting down...", "signal", sig)
			cancel()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
