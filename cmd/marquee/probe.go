package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/marquee/internal/container"
	"github.com/zsiec/marquee/internal/media"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <source>",
		Short: "Show the streams and properties of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			opts, err := containerOptions(cfg)
			if err != nil {
				return err
			}
			opts.Log = log
			info, err := container.Probe(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func printInfo(out io.Writer, info *media.Info) {
	fmt.Fprintf(out, "Source:   %s\n", info.Source)
	fmt.Fprintf(out, "Format:   %s\n", info.Format)
	fmt.Fprintf(out, "Duration: %s\n", formatDuration(info.Duration))
	if info.BitRate > 0 {
		fmt.Fprintf(out, "Bit rate: %d kb/s\n", info.BitRate/1000)
	}
	if info.Size > 0 {
		fmt.Fprintf(out, "Size:     %d bytes\n", info.Size)
	}
	fmt.Fprintf(out, "Seekable: %s\n", yesNo(info.Seekable))
	fmt.Fprintf(out, "Live:     %s\n", yesNo(info.Live))
	fmt.Fprintln(out)
	fmt.Fprintln(out, streamTable(info.Streams))
}

func streamTable(streams []media.StreamDescriptor) string {
	headers := []string{"#", "Type", "Codec", "Details", "Language", "Default"}
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			s.Type.String(),
			s.Codec,
			streamDetails(s),
			s.Language,
			yesNo(s.Default),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignRight})
}

func streamDetails(s media.StreamDescriptor) string {
	var parts []string
	switch s.Type {
	case media.Video:
		if s.Width > 0 && s.Height > 0 {
			parts = append(parts, fmt.Sprintf("%dx%d", s.Width, s.Height))
		}
		if s.FrameRate > 0 {
			parts = append(parts, strconv.FormatFloat(s.FrameRate, 'f', -1, 64)+" fps")
		}
		if s.Rotation != 0 {
			parts = append(parts, fmt.Sprintf("rotated %d°", s.Rotation))
		}
	case media.Audio:
		if s.SampleRate > 0 {
			parts = append(parts, fmt.Sprintf("%d Hz", s.SampleRate))
		}
		switch s.Channels {
		case 0:
		case 1:
			parts = append(parts, "mono")
		case 2:
			parts = append(parts, "stereo")
		default:
			parts = append(parts, fmt.Sprintf("%d ch", s.Channels))
		}
	}
	if s.BitRate > 0 {
		parts = append(parts, fmt.Sprintf("%d kb/s", s.BitRate/1000))
	}
	return strings.Join(parts, " · ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	ms := (d % time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
