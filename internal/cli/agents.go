package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Short:   "Manage registered agents",
	Aliases: []string{"agent"},
	Long: `Create, inspect and maintain agents in the registry.

Examples:
  legion agents list --type oracle --status online
  legion agents create Scout --type modular --role "Field Scout" --parent <id>
  legion agents xp <id> 250
  legion agents hierarchy`,
}

var (
	agentFilterType   string
	agentFilterStatus string
	agentFilterParent string
	agentFilterSkill  string
)

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		var agentType models.AgentType
		if agentFilterType != "" {
			t, err := models.ParseAgentType(agentFilterType)
			if err != nil {
				return err
			}
			agentType = t
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			agents, err := sys.Registry.List(ctx, registry.Filter{
				Type:     agentType,
				Status:   models.AgentStatus(strings.ToLower(agentFilterStatus)),
				ParentID: agentFilterParent,
				Skill:    agentFilterSkill,
			})
			if err != nil {
				return err
			}
			return render(cmd, agents, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tLEVEL\tXP\tPARENT")
				for _, a := range agents {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
						shortID(a.ID), truncate(a.Name, 32), a.Type, a.Status, a.Level, a.ExperiencePoints, shortID(a.ParentID))
				}
			})
		})
	},
}

var agentsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			a, err := sys.Registry.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return render(cmd, a, func(w io.Writer) { printAgent(w, a) })
		})
	},
}

var (
	agentCreateType   string
	agentCreateRole   string
	agentCreateParent string
	agentCreateSkills []string
	agentCreateTools  []string
)

var agentsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentType, err := models.ParseAgentType(agentCreateType)
		if err != nil {
			return err
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			a, err := sys.Registry.Create(ctx, registry.CreateSpec{
				Name:     args[0],
				Type:     agentType,
				Role:     agentCreateRole,
				Skills:   agentCreateSkills,
				Tools:    agentCreateTools,
				ParentID: agentCreateParent,
			})
			if err != nil {
				return err
			}
			return render(cmd, a, func(w io.Writer) {
				fmt.Fprintf(w, "Created agent %s (%s)\n", a.ID, a.Type)
			})
		})
	},
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an agent and its logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			res, err := sys.Registry.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted agent %s\t(%d logs, %d orphaned children)\n",
					res.AgentID, res.LogsDeleted, len(res.OrphanedChildren))
			})
		})
	},
}

var (
	agentHeartbeatStatus  string
	agentHeartbeatMetrics []string
)

// parseMetrics turns name=value pairs into heartbeat scores
func parseMetrics(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, models.Validationf("metric must be name=value, got %q", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, models.Validationf("metric %s must be a number, got %q", name, raw)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

var agentsHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <id>",
	Short: "Record a heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var update registry.HeartbeatUpdate
		if agentHeartbeatStatus != "" {
			status := models.AgentStatus(strings.ToLower(agentHeartbeatStatus))
			update.Status = &status
		}
		metrics, err := parseMetrics(agentHeartbeatMetrics)
		if err != nil {
			return err
		}
		update.Metrics = metrics
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			at, err := sys.Registry.Heartbeat(ctx, args[0], update)
			if err != nil {
				return err
			}
			result := map[string]interface{}{"agent_id": args[0], "heartbeat": at}
			return render(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "Heartbeat recorded at %s\n", at.Format("2006-01-02 15:04:05"))
			})
		})
	},
}

var agentsXPCmd = &cobra.Command{
	Use:   "xp <id> <points>",
	Short: "Add experience points",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var xp int
		if _, err := fmt.Sscanf(args[1], "%d", &xp); err != nil {
			return models.Validationf("experience points must be an integer, got %q", args[1])
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			change, err := sys.Registry.AddExperience(ctx, args[0], xp)
			if err != nil {
				return err
			}
			return render(cmd, change, func(w io.Writer) {
				fmt.Fprintf(w, "XP: %d\tLevel: %d", change.ExperiencePoints, change.NewLevel)
				if change.LeveledUp {
					fmt.Fprintf(w, "\t(level up from %d)", change.PreviousLevel)
				}
				fmt.Fprintln(w)
			})
		})
	},
}

var agentsToolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Collect and use agent tools",
}

var agentsToolAddCmd = &cobra.Command{
	Use:   "add <id> <tool>",
	Short: "Give an agent a tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			a, err := sys.Registry.AddTool(ctx, args[0], args[1], nil)
			if err != nil {
				return err
			}
			return render(cmd, a.Tools, func(w io.Writer) {
				fmt.Fprintf(w, "%s now holds %d tools\n", a.Name, len(a.Tools))
			})
		})
	},
}

var agentsToolUseCmd = &cobra.Command{
	Use:   "use <id> <tool>",
	Short: "Record one use of a tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			tool, err := sys.Registry.UseTool(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd, tool, func(w io.Writer) {
				fmt.Fprintf(w, "%s used %d times\n", tool.Name, tool.UsageCount)
			})
		})
	},
}

var agentsReparentCmd = &cobra.Command{
	Use:   "reparent <id> [parent-id]",
	Short: "Move an agent under a new parent, or make it a root",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent := ""
		if len(args) == 2 {
			parent = args[1]
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			a, err := sys.Registry.Reparent(ctx, args[0], parent)
			if err != nil {
				return err
			}
			return render(cmd, a, func(w io.Writer) {
				if a.ParentID == "" {
					fmt.Fprintf(w, "%s is now a root agent\n", a.Name)
					return
				}
				fmt.Fprintf(w, "%s now reports to %s\n", a.Name, a.ParentID)
			})
		})
	},
}

var agentsHierarchyCmd = &cobra.Command{
	Use:   "hierarchy [root-id]",
	Short: "Print the agent tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := ""
		if len(args) == 1 {
			root = args[0]
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			nodes, err := sys.Registry.Hierarchy(ctx, root)
			if err != nil {
				return err
			}
			return render(cmd, nodes, func(w io.Writer) {
				for _, n := range nodes {
					printNode(w, n, 0)
				}
			})
		})
	},
}

var agentsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark agents with stale heartbeats as errored",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			stale, err := sys.Registry.MarkStale(ctx, sys.Config.Registry.StaleThreshold)
			if err != nil && len(stale) == 0 {
				return err
			}
			return render(cmd, stale, func(w io.Writer) {
				fmt.Fprintf(w, "Marked %d stale agents\n", len(stale))
			})
		})
	},
}

func init() {
	agentsListCmd.Flags().StringVar(&agentFilterType, "type", "", "filter by agent type")
	agentsListCmd.Flags().StringVar(&agentFilterStatus, "status", "", "filter by status")
	agentsListCmd.Flags().StringVar(&agentFilterParent, "parent", "", "filter by parent agent id")
	agentsListCmd.Flags().StringVar(&agentFilterSkill, "skill", "", "filter by skill")

	agentsCreateCmd.Flags().StringVarP(&agentCreateType, "type", "t", string(models.AgentTypeModular), "agent type (controller, oracle, dispatcher, modular)")
	agentsCreateCmd.Flags().StringVar(&agentCreateRole, "role", "", "agent role")
	agentsCreateCmd.Flags().StringVar(&agentCreateParent, "parent", "", "parent agent id")
	agentsCreateCmd.Flags().StringSliceVar(&agentCreateSkills, "skills", nil, "comma separated skills")
	agentsCreateCmd.Flags().StringSliceVar(&agentCreateTools, "tools", nil, "comma separated tools")

	agentsHeartbeatCmd.Flags().StringVar(&agentHeartbeatStatus, "status", "", "new status to report")
	agentsHeartbeatCmd.Flags().StringArrayVar(&agentHeartbeatMetrics, "metric", nil, "performance score as name=value (repeatable)")

	agentsToolCmd.AddCommand(agentsToolAddCmd)
	agentsToolCmd.AddCommand(agentsToolUseCmd)

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsGetCmd)
	agentsCmd.AddCommand(agentsCreateCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
	agentsCmd.AddCommand(agentsHeartbeatCmd)
	agentsCmd.AddCommand(agentsXPCmd)
	agentsCmd.AddCommand(agentsToolCmd)
	agentsCmd.AddCommand(agentsReparentCmd)
	agentsCmd.AddCommand(agentsHierarchyCmd)
	agentsCmd.AddCommand(agentsSweepCmd)
}

func printAgent(w io.Writer, a models.Agent) {
	fmt.Fprintf(w, "ID:\t%s\n", a.ID)
	fmt.Fprintf(w, "Name:\t%s\n", a.Name)
	fmt.Fprintf(w, "Type:\t%s\n", a.Type)
	fmt.Fprintf(w, "Role:\t%s\n", a.Role)
	fmt.Fprintf(w, "Status:\t%s\n", a.Status)
	fmt.Fprintf(w, "Level:\t%d (%d XP)\n", a.Level, a.ExperiencePoints)
	fmt.Fprintf(w, "Performance:\teff %.2f  acc %.2f  adapt %.2f  spec %.2f\n",
		a.Performance.Efficiency, a.Performance.Accuracy, a.Performance.Adaptability, a.Performance.Specialization)
	fmt.Fprintf(w, "Skills:\t%s\n", strings.Join(a.Skills, ", "))
	tools := make([]string, len(a.Tools))
	for i, t := range a.Tools {
		tools[i] = fmt.Sprintf("%s(%d)", t.Name, t.UsageCount)
	}
	fmt.Fprintf(w, "Tools:\t%s\n", strings.Join(tools, ", "))
	if a.ParentID != "" {
		fmt.Fprintf(w, "Parent:\t%s\n", a.ParentID)
	}
	if a.LastHeartbeat != nil {
		fmt.Fprintf(w, "Heartbeat:\t%s\n", a.LastHeartbeat.Format("2006-01-02 15:04:05"))
	}
}

func printNode(w io.Writer, n *registry.Node, depth int) {
	fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", strings.Repeat("  ", depth), n.Agent.Name, n.Agent.Type, n.Agent.Status, shortID(n.Agent.ID))
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}
