package slurm

import (
	"errors"
	"strings"
	"time"

	"jobtrail/internal/config"
	"jobtrail/internal/services/shell"
)

// ErrNoJobSubmitted is returned when the submission command printed no job id.
var ErrNoJobSubmitted = errors.New("no job was submitted to slurm")

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec shell.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps submission and scontrol interactions.
type Client struct {
	shell         string
	scontrol      string
	sacct         string
	submitTimeout time.Duration
	writeEnvFile  bool
	exec          shell.Executor
}

// New constructs a client from the slurm config section.
func New(cfg config.Slurm, submitTimeout time.Duration, opts ...Option) (*Client, error) {
	client := &Client{
		shell:         strings.TrimSpace(cfg.SubmitShell),
		scontrol:      strings.TrimSpace(cfg.ScontrolBinary),
		sacct:         strings.TrimSpace(cfg.SacctBinary),
		submitTimeout: submitTimeout,
		writeEnvFile:  cfg.WriteEnvFile,
		exec:          shell.CommandExecutor{},
	}
	if client.shell == "" {
		return nil, errors.New("submit shell required")
	}
	if client.scontrol == "" {
		return nil, errors.New("scontrol binary required")
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig constructs a client from the application config.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	return New(cfg.Slurm, cfg.SubmitTimeout(), opts...)
}
