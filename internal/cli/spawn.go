package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
	"github.com/legion/legion/pkg/swarm"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn agents, quick deployments and swarms",
	Long: `Spawn agents into the registry.

Examples:
  legion spawn agent oracle --role "Market Analyst"
  legion spawn quick dispatcher --context "security audit"
  legion spawn swarm --swarm-type recon --units 2 --unit-size 3`,
}

var (
	spawnName    string
	spawnRole    string
	spawnParent  string
	spawnSkills  []string
	spawnTools   []string
	spawnContext string

	swarmSpawnType       string
	swarmSpawnUnits      int
	swarmSpawnUnitSize   int
	swarmSpawnController bool
)

var spawnAgentCmd = &cobra.Command{
	Use:   "agent <type>",
	Short: "Spawn one agent from its type template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := models.ParseAgentType(args[0])
		if err != nil {
			return err
		}
		cfg, err := spawner.Template(t)
		if err != nil {
			return err
		}
		if spawnName != "" {
			cfg.Name = spawnName
		}
		if spawnRole != "" {
			cfg.Role = spawnRole
		}
		cfg.Skills = append(cfg.Skills, spawnSkills...)
		cfg.Tools = append(cfg.Tools, spawnTools...)

		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			res, err := sys.Spawner.SpawnAgent(ctx, cfg, spawnParent)
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) { printSpawnResults(w, []spawner.SpawnResult{res}) })
		})
	},
}

var spawnQuickCmd = &cobra.Command{
	Use:   "quick <type>",
	Short: "Deploy a pre-configured agent ready for a mission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			res, err := sys.Spawner.DeployQuick(ctx, args[0], spawnContext)
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				printSpawnResults(w, []spawner.SpawnResult{res.Spawn})
				fmt.Fprintln(w)
				fmt.Fprintf(w, "Ready for mission:\t%t\n", res.ReadyForMission)
				fmt.Fprintf(w, "Mission success estimate:\t%.2f\n", res.EstimatedCapabilities.EstimatedMissionScore)
				for _, step := range res.NextSteps {
					fmt.Fprintf(w, "  - %s\n", step)
				}
			})
		})
	},
}

var spawnSwarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Spawn a swarm of modular units under an optional controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		if swarmSpawnUnits <= 0 {
			return models.Validationf("--units must be positive")
		}
		cfg := spawner.SwarmConfig{
			Type:              swarmSpawnType,
			IncludeController: swarmSpawnController,
		}
		for i := 0; i < swarmSpawnUnits; i++ {
			cfg.Units = append(cfg.Units, spawner.UnitConfig{
				Type: fmt.Sprintf("%s-unit-%d", swarmSpawnType, i+1),
				Size: swarmSpawnUnitSize,
			})
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			res, err := sys.Spawner.SpawnSwarm(ctx, cfg)
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Swarm:\t%s\n", res.SwarmID)
				fmt.Fprintf(w, "Size:\t%d\n", res.SwarmSize)
				fmt.Fprintf(w, "Complexity:\t%s\n", res.Capabilities.CoordinationComplexity)
				fmt.Fprintf(w, "Resilience:\t%.2f\n", res.Capabilities.ResilienceFactor)
				fmt.Fprintln(w)
				printSpawnResults(w, res.Agents)
			})
		})
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <quick|unit|swarm|custom>",
	Short: "Deploy a preset group of agents",
	Long: `Deploy agents from a named preset. Unit and swarm deployments are
registered as swarms. Custom deployments read agent configs from --file.

Examples:
  legion deploy quick --preset basic
  legion deploy unit --preset reconnaissance
  legion deploy swarm --size 12 --swarm-type defense
  legion deploy custom --file agents.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := swarm.ParseMode(args[0])
		if err != nil {
			return err
		}
		req := swarm.DeployRequest{
			Mode:      mode,
			Preset:    deployPreset,
			SwarmType: deploySwarmType,
			Size:      deploySize,
		}
		if deployFile != "" {
			if req.Agents, err = readAgentConfigs(deployFile); err != nil {
				return err
			}
		}
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			dep, err := sys.Deployer.Deploy(ctx, req)
			if err != nil {
				return err
			}
			return render(cmd, dep, func(w io.Writer) {
				fmt.Fprintf(w, "Deployment:\t%s\n", dep.ID)
				fmt.Fprintf(w, "Mode:\t%s\n", dep.Mode)
				if dep.Preset != "" {
					fmt.Fprintf(w, "Preset:\t%s\n", dep.Preset)
				}
				if dep.Swarm != nil {
					fmt.Fprintf(w, "Swarm:\t%s\n", dep.Swarm.SwarmID)
				}
				fmt.Fprintln(w)
				printSpawnResults(w, dep.Agents)
			})
		})
	},
}

var (
	deployPreset    string
	deploySwarmType string
	deploySize      int
	deployFile      string
)

func init() {
	spawnAgentCmd.Flags().StringVar(&spawnName, "name", "", "agent name (default: generated)")
	spawnAgentCmd.Flags().StringVar(&spawnRole, "role", "", "override the template role")
	spawnAgentCmd.Flags().StringVar(&spawnParent, "parent", "", "parent agent id")
	spawnAgentCmd.Flags().StringSliceVar(&spawnSkills, "skills", nil, "extra skills")
	spawnAgentCmd.Flags().StringSliceVar(&spawnTools, "tools", nil, "extra tools")

	spawnQuickCmd.Flags().StringVar(&spawnContext, "context", "", "mission context")

	spawnSwarmCmd.Flags().StringVar(&swarmSpawnType, "swarm-type", "general", "swarm type")
	spawnSwarmCmd.Flags().IntVar(&swarmSpawnUnits, "units", 1, "number of units")
	spawnSwarmCmd.Flags().IntVar(&swarmSpawnUnitSize, "unit-size", 3, "agents per unit")
	spawnSwarmCmd.Flags().BoolVar(&swarmSpawnController, "controller", true, "spawn a swarm controller")

	spawnCmd.AddCommand(spawnAgentCmd)
	spawnCmd.AddCommand(spawnQuickCmd)
	spawnCmd.AddCommand(spawnSwarmCmd)

	deployCmd.Flags().StringVar(&deployPreset, "preset", "", "preset name")
	deployCmd.Flags().StringVar(&deploySwarmType, "swarm-type", "", "swarm type for swarm mode")
	deployCmd.Flags().IntVar(&deploySize, "size", 0, "swarm size for swarm mode")
	deployCmd.Flags().StringVarP(&deployFile, "file", "f", "", "YAML list of agent configs for custom mode")
}

// readAgentConfigs loads a YAML list of spawn configs
func readAgentConfigs(path string) ([]spawner.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent configs: %w", err)
	}
	var cfgs []spawner.Config
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return nil, models.Validationf("invalid agent configs in %s: %v", path, err)
	}
	return cfgs, nil
}

func printSpawnResults(w io.Writer, results []spawner.SpawnResult) {
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tROLE\tPARENT\tSKILLS")
	for _, r := range results {
		a := r.Agent
		parent := "-"
		if a.ParentID != "" {
			parent = shortID(a.ParentID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, truncate(a.Name, 30), a.Type, truncate(a.Role, 30), parent,
			truncate(strings.Join(a.Skills, ","), 40))
	}
}
