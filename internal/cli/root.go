// Package cli wires the ipfill command line: flag parsing, credential and
// config resolution, interactive confirmation, and mapping the error
// taxonomy onto process exit codes.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nataas/ipfill/internal/artifact"
	"github.com/nataas/ipfill/internal/config"
	"github.com/nataas/ipfill/internal/db"
	"github.com/nataas/ipfill/internal/domain"
	"github.com/nataas/ipfill/internal/secrets"
)

type options struct {
	env          string
	apiRegion    string
	dbRegion     string
	expanded     string
	current      string
	strategy     string
	backupDir    string
	rollbackPath string
	configPath   string
	broadcast    bool
	debug        bool
	force        bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "ipfill",
		Short: "Provision expanded-range IP addresses into the regional inventory",
		Long: `ipfill computes the addresses that exist in an expanded CIDR range but not
in the current one and inserts them into the region-partitioned inventory,
idempotently and under an exclusive region lock. Every forward run snapshots
the region into a restore artifact first; --rollback replays such an
artifact to undo a run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.env, "env", "dev", "target environment (local/dev/stage/prod)")
	cmd.Flags().StringVar(&opts.apiRegion, "api_region", "", "target region to fill")
	cmd.Flags().StringVar(&opts.dbRegion, "db_region", "", "region of the database instance (required unless --env local)")
	cmd.Flags().StringVar(&opts.expanded, "expanded", "", "expanded CIDR range, e.g. 172.18.0.0/15")
	cmd.Flags().StringVar(&opts.current, "current", "", "current CIDR range, e.g. 172.18.0.0/16")
	cmd.Flags().StringVar(&opts.strategy, "strategy", string(domain.StrategyBulk), "insert strategy: bulk or rows")
	cmd.Flags().StringVar(&opts.backupDir, "backup-dir", ".", "directory for backup artifacts")
	cmd.Flags().StringVar(&opts.rollbackPath, "rollback", "", "replay a backup artifact instead of provisioning")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "optional YAML file overriding environment descriptors")
	cmd.Flags().BoolVar(&opts.broadcast, "include-broadcast", false, "also provision the expanded range's broadcast address")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&opts.force, "force", false, "skip interactive confirmation")

	cobra.CheckErr(cmd.MarkFlagRequired("api_region"))

	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger := newLogger(opts.debug)

	if opts.env != config.LocalEnv && opts.dbRegion == "" {
		return fmt.Errorf("%w: --db_region is required when --env is not %s", domain.ErrConfig, config.LocalEnv)
	}
	if opts.rollbackPath == "" && (opts.expanded == "" || opts.current == "") {
		return fmt.Errorf("%w: --expanded and --current are required for forward provisioning", domain.ErrConfig)
	}
	strategy := domain.Strategy(opts.strategy)
	if strategy != domain.StrategyBulk && strategy != domain.StrategyRows {
		return fmt.Errorf("%w: unknown --strategy %q", domain.ErrConfig, opts.strategy)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	env, err := cfg.Environment(opts.env)
	if err != nil {
		return err
	}

	provider, err := newProvider(ctx, opts)
	if err != nil {
		return err
	}
	creds, err := provider.Fetch(ctx)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, env.DSN(creds.Username, creds.Password))
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", opts.env, err)
	}
	defer pool.Close()

	repo := db.NewInventoryRepository(pool, logger)
	service := domain.NewLoggingProvisionService(logger,
		domain.NewProvisionService(repo, artifact.Scripts{}, artifact.Backups{Dir: opts.backupDir}))

	if opts.rollbackPath != "" {
		return service.Rollback(ctx, opts.rollbackPath)
	}

	return provision(ctx, logger, service, opts, strategy)
}

func provision(ctx context.Context, logger *slog.Logger, service domain.ProvisionService, opts *options, strategy domain.Strategy) error {
	expanded, err := domain.ParseRange(opts.expanded)
	if err != nil {
		return err
	}
	current, err := domain.ParseRange(opts.current)
	if err != nil {
		return err
	}

	var diffOpts []domain.DiffOption
	if opts.broadcast {
		diffOpts = append(diffOpts, domain.IncludeBroadcast())
	}
	delta, err := domain.RangeDiff(expanded, current, diffOpts...)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "provisioning preview",
		"region", opts.apiRegion,
		"expanded", expanded.String(),
		"current", current.String(),
		"addresses", delta.Count())

	if !opts.force {
		ok, err := confirm(ctx, fmt.Sprintf("Insert %d addresses into region %s (%s)?", delta.Count(), opts.apiRegion, opts.env))
		if err != nil {
			return err
		}
		if !ok {
			logger.InfoContext(ctx, "aborted by operator, no writes performed")
			return nil
		}
	}

	result, err := service.Provision(ctx, domain.ProvisionInput{
		Region:           opts.apiRegion,
		Expanded:         expanded,
		Current:          current,
		Strategy:         strategy,
		IncludeBroadcast: opts.broadcast,
	})
	if err == nil {
		return nil
	}

	if result.BackupPath == "" {
		return err
	}

	// The forward run failed after a backup was taken: surface the artifact
	// and offer to replay it right away.
	logger.ErrorContext(ctx, "provisioning failed with a backup available",
		"backup", result.BackupPath, "err", err.Error())
	if opts.force {
		return err
	}
	ok, confirmErr := confirm(ctx, fmt.Sprintf("Provisioning failed. Roll back region %s from %s now?", opts.apiRegion, result.BackupPath))
	if confirmErr != nil || !ok {
		return err
	}
	if rbErr := service.Rollback(ctx, result.BackupPath); rbErr != nil {
		return rbErr
	}
	return err
}

func newProvider(ctx context.Context, opts *options) (secrets.Provider, error) {
	if opts.env == config.LocalEnv {
		return secrets.LocalDev(), nil
	}
	return secrets.NewManager(ctx, opts.env, opts.dbRegion)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
