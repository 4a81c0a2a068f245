package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zulandar/grabyard/internal/config"
	"github.com/zulandar/grabyard/internal/media"
	"github.com/zulandar/grabyard/internal/origin"
	"github.com/zulandar/grabyard/internal/probe"
)

func newResolveCmd() *cobra.Command {
	var (
		configPath string
		audio      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <link>",
		Short: "Resolve a link through the configured mirrors",
		Long: "Runs the resolution pipeline without any chat platform and prints the media " +
			"that would be delivered.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, configPath, args[0], audio, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to grabyard config file")
	cmd.Flags().BoolVar(&audio, "audio", false, "request audio only")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log mirror and probe activity to stderr")
	return cmd
}

func runResolve(cmd *cobra.Command, configPath, link string, audio, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := zerolog.Nop()
	if verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	}
	resolver, _, err := buildResolver(cfg, log)
	if err != nil {
		return err
	}

	mode := origin.ModeDefault
	if audio {
		mode = origin.ModeAudio
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	res, err := resolver.Resolve(ctx, link, mode)
	if err != nil {
		var declined *origin.DeclinedError
		if errors.As(err, &declined) {
			return fmt.Errorf("upstream declined: %s", declined.Message())
		}
		return fmt.Errorf("resolve: %w", err)
	}

	printResolved(cmd.OutOrStdout(), res)
	return nil
}

func printResolved(out io.Writer, res media.Resolved) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKIND\tFILENAME\tURL")
	for i, item := range res.Items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, item.Kind, orDash(item.Filename), item.URL)
	}
	w.Flush()
	fmt.Fprintf(out, "\nattempted: %d, failed: %d, delivered: %d\n", res.Attempted, res.Failed, res.Succeeded())
}

func newProbeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Check whether a URL serves any content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := probe.New(probe.Opts{Client: origin.NewHTTPClient(), Timeout: timeout})
			verdict := p.Check(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], verdict)
			if verdict != probe.Present {
				return fmt.Errorf("no content confirmed (%s)", verdict)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", probe.DefaultTimeout, "per-request timeout")
	return cmd
}
