package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/directory-groups/pkg/config"
	"github.com/Sternrassler/directory-groups/pkg/logging"
	"github.com/Sternrassler/directory-groups/pkg/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	envFile     string
	metricsAddr string

	app         *app
	stopMetrics context.CancelFunc
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "groupctl",
		Short: "Manage directory group membership",
		Long: `groupctl adds, removes and re-roles members of directory groups in batches,
retrying quota and availability rejections once per member and reporting every
member change that failed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "path to a .env file (default: ./.env if present)")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	cmd.AddCommand(
		newAddCmd(opts),
		newRemoveCmd(opts),
		newSetRoleCmd(opts),
		newListCmd(opts),
	)

	return cmd
}

func (o *rootOptions) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var envFiles []string
	if o.envFile != "" {
		envFiles = append(envFiles, o.envFile)
	}

	cfg, err := config.Load(o.configPath, envFiles...)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Log.Logging())

	if o.metricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		o.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(metricsCtx, o.metricsAddr); err != nil {
				log.Error().Err(err).Str("addr", o.metricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	o.app, err = newApp(ctx, cfg)
	if err != nil {
		o.teardown()
		return err
	}

	return nil
}

// run calls fn with the wired components and tears them down afterwards.
func (o *rootOptions) run(fn func(a *app) error) error {
	defer o.teardown()
	return fn(o.app)
}

func (o *rootOptions) teardown() {
	if o.app != nil {
		o.app.Close()
		o.app = nil
	}
	if o.stopMetrics != nil {
		o.stopMetrics()
		o.stopMetrics = nil
	}
}
