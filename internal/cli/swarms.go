package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/swarm"
)

var swarmsCmd = &cobra.Command{
	Use:     "swarms",
	Short:   "Inspect and recall swarms",
	Aliases: []string{"swarm"},
}

var swarmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered swarms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			swarms, err := sys.Swarms.List(ctx)
			if err != nil {
				return err
			}
			return render(cmd, swarms, func(w io.Writer) {
				fmt.Fprintln(w, "SWARM\tTYPE\tSTATUS\tCONTROLLER\tMEMBERS\tCREATED")
				for _, d := range swarms {
					printSwarmLine(w, d)
				}
			})
		})
	},
}

var swarmsGetCmd = &cobra.Command{
	Use:   "get <swarm-id>",
	Short: "Show one swarm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			d, err := sys.Swarms.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return render(cmd, d, func(w io.Writer) {
				fmt.Fprintf(w, "Swarm:\t%s\n", d.SwarmID)
				fmt.Fprintf(w, "Type:\t%s\n", d.SwarmType)
				fmt.Fprintf(w, "Status:\t%s\n", d.Status)
				fmt.Fprintf(w, "Controller:\t%s\n", d.ControllerID)
				fmt.Fprintln(w, "Members:")
				for _, id := range d.AgentIDs {
					fmt.Fprintf(w, "  %s\n", id)
				}
			})
		})
	},
}

var swarmsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a legion-wide status snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			st, err := sys.Swarms.Status(ctx)
			if err != nil {
				return err
			}
			return render(cmd, st, func(w io.Writer) { printStatus(w, st) })
		})
	},
}

var (
	recallSwarm  string
	recallAgents []string
	recallAll    bool
)

var swarmsRecallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Set a swarm, a list of agents or every agent offline",
	Long: `Recall agents. Exactly one of --swarm, --agents or --all is required.

Examples:
  legion swarms recall --swarm swarm_1a2b3c4d
  legion swarms recall --agents a1,a2
  legion swarms recall --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			res, err := sys.Swarms.Recall(ctx, swarm.RecallRequest{
				SwarmID:  recallSwarm,
				AgentIDs: recallAgents,
				All:      recallAll,
			})
			if res.Timestamp.IsZero() && err != nil {
				return err
			}
			if rerr := render(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Recalled:\t%d\n", res.RecalledCount)
				for _, id := range res.AgentIDs {
					fmt.Fprintf(w, "  %s\n", id)
				}
				if len(res.Failed) > 0 {
					fmt.Fprintf(w, "Failed:\t%d\n", len(res.Failed))
				}
			}); rerr != nil {
				return rerr
			}
			return err
		})
	},
}

func init() {
	swarmsRecallCmd.Flags().StringVar(&recallSwarm, "swarm", "", "swarm id")
	swarmsRecallCmd.Flags().StringSliceVar(&recallAgents, "agents", nil, "agent ids")
	swarmsRecallCmd.Flags().BoolVar(&recallAll, "all", false, "recall every agent")

	swarmsCmd.AddCommand(swarmsListCmd)
	swarmsCmd.AddCommand(swarmsGetCmd)
	swarmsCmd.AddCommand(swarmsStatusCmd)
	swarmsCmd.AddCommand(swarmsRecallCmd)
}

func printSwarmLine(w io.Writer, d models.SwarmDeployment) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
		d.SwarmID, d.SwarmType, d.Status, shortID(d.ControllerID), len(d.AgentIDs),
		d.CreatedAt.Format("2006-01-02 15:04"))
}

func printStatus(w io.Writer, st swarm.Status) {
	fmt.Fprintf(w, "Health:\t%s\n", st.SystemHealth)
	fmt.Fprintf(w, "Agents:\t%d (%d online)\n", st.TotalAgents, st.OnlineAgents)
	fmt.Fprintf(w, "Missions:\t%d active, %d pending\n", st.ActiveMissions, st.PendingMissions)
	fmt.Fprintf(w, "Swarms:\t%d active\n", st.ActiveSwarms)
	p := st.AverageMetrics
	fmt.Fprintf(w, "Performance:\teff %.2f  acc %.2f  adapt %.2f  spec %.2f\n",
		p.Efficiency, p.Accuracy, p.Adaptability, p.Specialization)

	types := make([]string, 0, len(st.AgentCounts))
	for t := range st.AgentCounts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	if len(types) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "TYPE\tONLINE\tBUSY\tOFFLINE")
	for _, t := range types {
		c := st.AgentCounts[models.AgentType(t)]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t,
			c[models.AgentStatusOnline], c[models.AgentStatusBusy], c[models.AgentStatusOffline])
	}
}
