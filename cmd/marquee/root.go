package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zsiec/marquee/internal/certs"
	"github.com/zsiec/marquee/internal/config"
	"github.com/zsiec/marquee/internal/container"
	"github.com/zsiec/marquee/internal/logging"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string
	logFileFlag  string
	stderr       io.Writer

	once   sync.Once
	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
	err    error
}

// ensure loads .env, the config file and the flag overrides, builds the
// logger and freezes the library configuration.
func (c *commandContext) ensure() (*config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		if err := config.LoadDotEnv(); err != nil {
			c.err = fmt.Errorf("load .env: %w", err)
			return
		}
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		if c.logLevelFlag != "" {
			cfg.Logging.Level = strings.ToLower(c.logLevelFlag)
		}
		if c.logFileFlag != "" {
			if cfg.Logging.File, err = config.ExpandPath(c.logFileFlag); err != nil {
				c.err = fmt.Errorf("resolve log file: %w", err)
				return
			}
		}
		if err := cfg.Validate(); err != nil {
			c.err = err
			return
		}
		log, closer, err := logging.New(cfg.Logging, c.stderr)
		if err != nil {
			c.err = err
			return
		}
		slog.SetDefault(log)
		if err := config.Init(*cfg); err != nil {
			log.Warn("library configuration already set", "error", err)
		}
		c.cfg, c.log, c.closer = cfg, log, closer
	})
	return c.cfg, c.log, c.err
}

func (c *commandContext) close() {
	if c.closer != nil {
		_ = c.closer.Close()
	}
}

// containerOptions maps the network section onto open options.
func containerOptions(cfg *config.Config) (container.Options, error) {
	opts := container.Options{
		PreferHardware: cfg.Decoder.PreferHardware,
		CaptionChannel: cfg.Decoder.CaptionChannel,
		Protocol: container.ProtocolOptions{
			Timeout:      cfg.Network.Timeout.D(),
			StallTimeout: cfg.Network.StallTimeout.D(),
			HTTP3:        cfg.Network.HTTP3,
			UserAgent:    cfg.Network.UserAgent,
			SRTLatency:   cfg.Network.SRTLatency.D(),
		},
	}
	if cfg.Network.CAFile != "" {
		pool, err := certs.LoadPool(cfg.Network.CAFile)
		if err != nil {
			return opts, err
		}
		opts.Protocol.RootCAs = pool
	}
	return opts, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{stderr: os.Stderr}

	rootCmd := &cobra.Command{
		Use:           "marquee",
		Short:         "Play, probe and index media sources",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, _, err := ctx.ensure()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&ctx.logFileFlag, "log-file", "", "Also write JSON logs to this rotated file")

	rootCmd.AddCommand(newPlayCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newIndexCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
