package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/mission"
	"github.com/legion/legion/pkg/models"
)

var missionsCmd = &cobra.Command{
	Use:     "missions",
	Short:   "Track agent missions",
	Aliases: []string{"mission"},
	Long: `Create missions and move them through pending, active, completed
and failed.

Examples:
  legion missions create "Map the market" --priority high
  legion missions dispatch "Audit logins" --skills threat_assessment
  legion missions transition <id> completed`,
}

var (
	missionPriority    string
	missionDescription string
	missionAgent       string
	missionSkills      []string
	missionFilterState string
	missionFilterPrio  string
	missionFilterAgent string
)

var missionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a mission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			m, err := sys.Missions.Create(ctx, missionSpec(args[0]))
			if err != nil {
				return err
			}
			return render(cmd, m, func(w io.Writer) { printMissionLine(w, m, true) })
		})
	},
}

var missionsDispatchCmd = &cobra.Command{
	Use:   "dispatch <name>",
	Short: "Create a mission and assign it to a matching online agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			spec := missionSpec(args[0])
			spec.AgentID = ""
			m, err := sys.Missions.Dispatch(ctx, mission.DispatchRequest{
				Mission:        spec,
				AgentID:        missionAgent,
				RequiredSkills: missionSkills,
			})
			if err != nil {
				return err
			}
			return render(cmd, m, func(w io.Writer) { printMissionLine(w, m, true) })
		})
	},
}

var missionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			missions, err := sys.Missions.List(ctx, mission.Filter{
				Status:   models.MissionStatus(strings.ToLower(missionFilterState)),
				Priority: models.Priority(strings.ToLower(missionFilterPrio)),
				AgentID:  missionFilterAgent,
			})
			if err != nil {
				return err
			}
			return render(cmd, missions, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPRIORITY\tAGENT")
				for _, m := range missions {
					printMissionLine(w, m, false)
				}
			})
		})
	},
}

var missionsAssignCmd = &cobra.Command{
	Use:   "assign <mission-id> <agent-id>",
	Short: "Assign a mission to an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			m, err := sys.Missions.Assign(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd, m, func(w io.Writer) { printMissionLine(w, m, true) })
		})
	},
}

var missionsTransitionCmd = &cobra.Command{
	Use:   "transition <mission-id> <status>",
	Short: "Move a mission to a new status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		next := models.MissionStatus(strings.ToLower(args[1]))
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			m, err := sys.Missions.Transition(ctx, args[0], next, nil)
			if err != nil {
				return err
			}
			return render(cmd, m, func(w io.Writer) { printMissionLine(w, m, true) })
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{missionsCreateCmd, missionsDispatchCmd} {
		c.Flags().StringVarP(&missionPriority, "priority", "p", string(models.PriorityMedium), "low, medium, high or critical")
		c.Flags().StringVarP(&missionDescription, "description", "d", "", "mission description")
		c.Flags().StringVar(&missionAgent, "agent", "", "agent id to assign")
	}
	missionsDispatchCmd.Flags().StringSliceVar(&missionSkills, "skills", nil, "skills the agent must hold")
	missionsListCmd.Flags().StringVar(&missionFilterState, "status", "", "filter by status")
	missionsListCmd.Flags().StringVarP(&missionFilterPrio, "priority", "p", "", "filter by priority")
	missionsListCmd.Flags().StringVar(&missionFilterAgent, "agent", "", "filter by assigned agent")

	missionsCmd.AddCommand(missionsCreateCmd)
	missionsCmd.AddCommand(missionsDispatchCmd)
	missionsCmd.AddCommand(missionsListCmd)
	missionsCmd.AddCommand(missionsAssignCmd)
	missionsCmd.AddCommand(missionsTransitionCmd)
}

func missionSpec(name string) mission.Spec {
	return mission.Spec{
		Name:        name,
		Description: missionDescription,
		Priority:    models.Priority(strings.ToLower(missionPriority)),
		AgentID:     missionAgent,
	}
}

func printMissionLine(w io.Writer, m models.Mission, full bool) {
	agent := shortID(m.AssignedAgentID)
	id := shortID(m.ID)
	if full {
		agent = m.AssignedAgentID
		id = m.ID
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, truncate(m.Name, 40), m.Status, m.Priority, agent)
}
