package main

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zsiec/marquee/internal/container"
	"github.com/zsiec/marquee/internal/seekindex"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index <source>",
		Short: "Scan a source and cache its seek index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			if !cfg.Cache.Enabled {
				return errors.New("seek index cache is disabled (cache.enabled = false)")
			}
			source := args[0]
			out := cmd.OutOrStdout()

			store, err := seekindex.Open(cmd.Context(), cfg.Cache.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			key, err := seekindex.Identity(afero.NewOsFs(), source)
			if err != nil {
				return fmt.Errorf("identify source: %w", err)
			}
			if !force {
				idx, err := store.Load(cmd.Context(), key)
				switch {
				case err == nil && idx.Complete():
					fmt.Fprintf(out, "Index is up to date (%d keyframes)\n", idx.Len())
					return nil
				case err != nil && !errors.Is(err, seekindex.ErrNotFound):
					log.Warn("ignoring unreadable cached index", "error", err)
				}
			}

			unlock, ok, err := store.LockScan(key)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("another process is scanning %s", source)
			}
			defer func() { _ = unlock() }()

			opts, err := containerOptions(cfg)
			if err != nil {
				return err
			}
			opts.Log = log
			c, err := container.Open(cmd.Context(), source, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			if !c.IsSeekable() {
				return fmt.Errorf("%s is not seekable; nothing to index", source)
			}

			idx, err := c.Prescan(cmd.Context())
			if err != nil {
				return err
			}
			if idx == nil {
				return fmt.Errorf("%s has no stream to index", source)
			}
			if err := store.Save(cmd.Context(), key, source, idx); err != nil {
				return err
			}
			last, _ := idx.Last()
			fmt.Fprintf(out, "Indexed %d keyframes up to %s\n", idx.Len(), formatDuration(last.PTS))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Rescan even if a complete index is cached")
	return cmd
}
