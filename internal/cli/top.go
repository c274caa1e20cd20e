package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/internal/cli/tui"
)

var topInterval time.Duration

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Open the live legion dashboard",
	Long: `Open a terminal dashboard showing agents, missions, swarms and
pipeline runs. It polls the configured store, so point it at the redis
driver to watch agents spawned by other processes.

Keys: tab switches agents/runs, r refreshes, q quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			return tui.Run(ctx, tui.SystemFetcher(sys),
				tui.WithInterval(topInterval),
				tui.WithVersion(Version))
		})
	},
}

func init() {
	topCmd.Flags().DurationVar(&topInterval, "interval", 2*time.Second, "poll interval")
}
