package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type rootCommand struct {
	cmd     *cobra.Command
	server  string
	timeout time.Duration
}

func (r *rootCommand) gateway() *gateway {
	return newGateway(r.server, r.timeout)
}

func newRootCommand() *cobra.Command {
	root := &rootCommand{}
	root.cmd = &cobra.Command{
		Use:           "taskbagctl",
		Short:         "Inspect and drive a task bag over its HTTP gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.cmd.PersistentFlags()
	flags.StringVarP(&root.server, "server", "s", "http://127.0.0.1:2100", "gateway base URL")
	flags.DurationVar(&root.timeout, "timeout", time.Minute, "request timeout")

	root.cmd.AddCommand(
		root.healthCommand(),
		root.statsCommand(),
		root.countCommand(),
		root.peekCommand(),
		root.takeCommand(),
		root.publishCommand(),
		root.configCommand(),
		root.cursorCommand(),
		root.watchCommand(),
	)
	return root.cmd
}

// getter builds a command printing the response of a GET request.
func (r *rootCommand) getter(use, short string, args cobra.PositionalArgs, path func([]string) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.gateway().get(cmd.Context(), path(args))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func queuePath(key, suffix string) string {
	return "/queues/" + url.PathEscape(key) + suffix
}

func (r *rootCommand) healthCommand() *cobra.Command {
	return r.getter("health", "Show gateway health", cobra.NoArgs, func([]string) string {
		return "/health"
	})
}

func (r *rootCommand) statsCommand() *cobra.Command {
	return r.getter("stats", "Show queue sizes, configuration and cursor", cobra.NoArgs, func([]string) string {
		return "/queues"
	})
}

func (r *rootCommand) countCommand() *cobra.Command {
	return r.getter("count KEY", "Count the batches queued under KEY", cobra.ExactArgs(1), func(args []string) string {
		return queuePath(args[0], "/count")
	})
}

func (r *rootCommand) peekCommand() *cobra.Command {
	return r.getter("peek KEY", "Show the oldest batch under KEY without removing it", cobra.ExactArgs(1), func(args []string) string {
		return queuePath(args[0], "/peek")
	})
}

func (r *rootCommand) takeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "take KEY",
		Short: "Remove and show the oldest batch under KEY, waiting for one if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := r.gateway().post(cmd.Context(), queuePath(args[0], "/take"), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func (r *rootCommand) publishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish KEY [N...]",
		Short: "Append a batch of integers under KEY",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch := make([]int64, 0, len(args)-1)
			for _, a := range args[1:] {
				n, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid number %q: %w", a, err)
				}
				batch = append(batch, n)
			}
			body, err := r.gateway().post(
				cmd.Context(), queuePath(args[0], ""), map[string]any{"batch": batch},
			)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func (r *rootCommand) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or replace the run configuration",
	}
	cmd.AddCommand(r.getter("get", "Show the run configuration", cobra.NoArgs, func([]string) string {
		return "/configuration"
	}))

	var ceiling, batchSize int64
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the run configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.gateway().post(cmd.Context(), "/configuration", map[string]int64{
				"range_ceiling": ceiling,
				"batch_size":    batchSize,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	set.Flags().Int64Var(&ceiling, "max", 100, "range ceiling")
	set.Flags().Int64Var(&batchSize, "granularity", 10, "batch size")
	cmd.AddCommand(set)
	return cmd
}

func (r *rootCommand) cursorCommand() *cobra.Command {
	cmd := r.getter("cursor", "Show the task cursor", cobra.NoArgs, func([]string) string {
		return "/cursor"
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "advance",
		Short: "Advance the task cursor by one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := r.gateway().post(cmd.Context(), "/cursor/advance", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	})
	return cmd
}

func (r *rootCommand) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream bag events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.gateway().watch(cmd.Context(), cmd.OutOrStdout())
		},
	}
}
