package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"jobtrail/internal/config"
	"jobtrail/internal/gitrepo"
	"jobtrail/internal/ledger"
	"jobtrail/internal/logging"
	"jobtrail/internal/services"
	"jobtrail/internal/slurm"
)

type globalFlags struct {
	config  string
	dataset string
	json    bool
	quiet   bool
}

type commandContext struct {
	flags         *globalFlags
	correlationID string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{
		flags:         flags,
		correlationID: uuid.NewString(),
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger(cmd *cobra.Command) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg, cmd.ErrOrStderr(), c.correlationID)
		if err != nil {
			c.loggerErr = err
			return
		}
		if c.flags.quiet {
			logger = logging.WithLevelOverride(logger, slog.LevelWarn)
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

// requestContext tags the command's context with the invocation's
// correlation id.
func (c *commandContext) requestContext(cmd *cobra.Command) context.Context {
	return services.WithRequestID(cmd.Context(), c.correlationID)
}

func (c *commandContext) jsonOutput() bool {
	return c.flags != nil && c.flags.json
}

// session bundles what the workflow commands need: the repository, its ledger,
// and the dataset id records are stamped with.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	repo      *gitrepo.Repo
	ledger    *ledger.Store
	datasetID string
}

func (c *commandContext) openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger(cmd)
	if err != nil {
		return nil, err
	}
	repo, err := gitrepo.Open(ctx, c.flags.dataset, gitrepo.WithBinary(cfg.Git.Binary))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "open dataset", "", err)
	}
	dsid := cfg.Dataset.ID
	if dsid == "" {
		if dsid, err = repo.EnsureDatasetID(ctx); err != nil {
			return nil, err
		}
	}
	store, err := ledger.OpenForRepo(cfg, repo.Root())
	if err != nil {
		return nil, services.Wrap(services.ErrLedgerUnavailable, "", "open ledger", "", err)
	}
	logger.Debug("session opened",
		logging.String("root", repo.Root()),
		logging.String("dataset_id", dsid),
		logging.String("ledger", store.Path()),
	)
	return &session{cfg: cfg, logger: logger, repo: repo, ledger: store, datasetID: dsid}, nil
}

func (s *session) Close() error {
	if s == nil {
		return nil
	}
	return s.ledger.Close()
}

func (s *session) slurmClient() (*slurm.Client, error) {
	client, err := slurm.NewFromConfig(s.cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "slurm client", "", err)
	}
	return client, nil
}

// ledgerDir resolves the ledger directory. A configured ledger_dir avoids
// opening the repository at all.
func (c *commandContext) ledgerDir(ctx context.Context) (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.Paths.LedgerDir != "" {
		return cfg.Paths.LedgerDir, nil
	}
	repo, err := gitrepo.Open(ctx, c.flags.dataset, gitrepo.WithBinary(cfg.Git.Binary))
	if err != nil {
		return "", fmt.Errorf("locate ledger: %w", err)
	}
	return cfg.LedgerDirFor(repo.Root()), nil
}

func (c *commandContext) openLedger(ctx context.Context) (*ledger.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	dir, err := c.ledgerDir(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Open(dir, ledger.OptionsFromConfig(cfg))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func splitCommand(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("a command to schedule is required after --")
	}
	return strings.Join(args, " "), nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
