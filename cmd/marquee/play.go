package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/marquee/internal/config"
	"github.com/zsiec/marquee/internal/engine"
	"github.com/zsiec/marquee/internal/events"
	"github.com/zsiec/marquee/internal/logging"
	"github.com/zsiec/marquee/internal/seekindex"
)

// errFinished ends the run group when playback is over.
var errFinished = errors.New("playback finished")

type playFlags struct {
	speed     float64
	start     time.Duration
	limit     time.Duration
	noAudio   bool
	noVideo   bool
	noSubs    bool
	loop      bool
	positions bool
	caption   int
}

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var f playFlags

	cmd := &cobra.Command{
		Use:   "play <source>",
		Short: "Play a source and print engine events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			return runPlay(cmd.Context(), ctx, cfg, args[0], f, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&f.speed, "speed", 1, "Playback speed ratio")
	flags.DurationVar(&f.start, "start", 0, "Seek to this position before playing")
	flags.DurationVar(&f.limit, "duration-limit", 0, "Stop after playing this long (wall time)")
	flags.BoolVar(&f.noAudio, "no-audio", false, "Disable audio")
	flags.BoolVar(&f.noVideo, "no-video", false, "Disable video")
	flags.BoolVar(&f.noSubs, "no-subs", false, "Disable captions")
	flags.BoolVar(&f.loop, "loop", false, "Restart at the end of media")
	flags.BoolVar(&f.positions, "positions", false, "Print position updates")
	flags.IntVar(&f.caption, "caption-channel", 0, "Caption channel: CC1-CC4 as 1-4, 708 services as 7-12")
	return cmd
}

func runPlay(parent context.Context, cc *commandContext, cfg *config.Config, source string, f playFlags, out io.Writer) error {
	log := cc.log
	copts, err := containerOptions(cfg)
	if err != nil {
		return err
	}
	copts.DisableAudio, copts.DisableVideo, copts.DisableSubtitles = f.noAudio, f.noVideo, f.noSubs
	if f.caption > 0 {
		copts.CaptionChannel = f.caption
	}

	engCfg := cfg.Engine
	if f.loop {
		engCfg.LoopingBehavior = config.BehaviorPlay
	}

	opts := []engine.Option{
		engine.WithConfig(engCfg),
		engine.WithDecoderConfig(cfg.Decoder),
		engine.WithLogger(log),
	}
	if cfg.Cache.Enabled {
		store, err := seekindex.Open(parent, cfg.Cache.Path)
		if err != nil {
			log.Warn("seek index cache unavailable", "error", err)
		} else {
			defer store.Close()
			opts = append(opts, engine.WithIndexStore(store, nil))
		}
	}

	sink := newLogSink(log)
	eng := engine.New(sink, opts...)
	evs, sub := eng.Events(256)
	defer sub.Unsubscribe()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	p := newEventPrinter(out, f.positions)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-evs:
				if !ok {
					return nil
				}
				p.print(ev)
				switch ev.Kind {
				case events.MediaEnded:
					if !f.loop {
						return errFinished
					}
				case events.MediaFailed:
					return ev.Err
				}
			}
		}
	})

	g.Go(func() error {
		if err := eng.SetSpeedRatio(gctx, f.speed); err != nil {
			return err
		}
		if err := eng.Open(gctx, source, copts); err != nil {
			return err
		}
		if f.start > 0 {
			if err := eng.Seek(gctx, f.start); err != nil {
				return err
			}
		}
		if err := eng.Play(gctx); err != nil {
			return err
		}
		if f.limit <= 0 {
			return nil
		}
		t := time.NewTimer(f.limit)
		defer t.Stop()
		select {
		case <-t.C:
			log.Info("duration limit reached", "limit", f.limit)
			return errFinished
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	stats := eng.Stats()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := eng.Shutdown(shutdownCtx); serr != nil {
		log.Warn("engine shutdown", "error", serr)
	}

	fmt.Fprintf(out, "decoded %d, rendered %d, dropped %d, decode errors %d, frames %d, audio blocks %d, captions %d\n",
		stats.BlocksDecoded, stats.BlocksRendered, stats.BlocksDropped, stats.DecodeErrors,
		sink.frames.Load(), sink.blocks.Load(), sink.cues.Load())

	if errors.Is(err, errFinished) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type eventPrinter struct {
	out       io.Writer
	positions bool
	fail      *color.Color
	state     *color.Color
	info      *color.Color
	dim       *color.Color
}

func newEventPrinter(out io.Writer, positions bool) *eventPrinter {
	p := &eventPrinter{
		out:       out,
		positions: positions,
		fail:      color.New(color.FgRed, color.Bold),
		state:     color.New(color.FgCyan),
		info:      color.New(color.FgGreen),
		dim:       color.New(color.FgHiBlack),
	}
	if !logging.IsTerminal(out) {
		for _, c := range []*color.Color{p.fail, p.state, p.info, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func (p *eventPrinter) print(ev events.Event) {
	c := p.info
	switch ev.Kind {
	case events.PositionChanged:
		if !p.positions {
			return
		}
		c = p.dim
	case events.MediaFailed:
		c = p.fail
	case events.StateChanged:
		c = p.state
	}
	c.Fprintf(p.out, "%s %s\n", ev.Time.Format("15:04:05.000"), ev)
	if ev.Kind == events.MediaOpened && ev.Info != nil {
		fmt.Fprintln(p.out, streamTable(ev.Info.Streams))
	}
}
