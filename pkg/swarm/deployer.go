package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
)

// Mode selects how a deployment picks its agent configs
type Mode string

const (
	ModeQuick  Mode = "quick"
	ModeUnit   Mode = "unit"
	ModeSwarm  Mode = "swarm"
	ModeCustom Mode = "custom"
)

// ParseMode resolves a case-insensitive mode; empty input means custom
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeCustom, nil
	case ModeQuick, ModeUnit, ModeSwarm, ModeCustom:
		return m, nil
	}
	return "", models.Validationf("unknown deployment mode %q", s)
}

const (
	defaultQuickPreset = "basic"
	defaultUnitPreset  = "reconnaissance"
	defaultSwarmType   = "general"
	defaultSwarmSize   = 10
	minSwarmSize       = 3
)

// PresetSource supplies named agent config lists for a mode. Lookups that
// miss fall back to the built-in presets.
type PresetSource interface {
	Preset(mode, name string) ([]spawner.Config, bool)
}

// Spawner spawns batches of agents
type Spawner interface {
	SpawnMany(ctx context.Context, reqs []spawner.Request) ([]spawner.SpawnResult, error)
}

// DeployRequest describes one preset deployment
type DeployRequest struct {
	Mode      Mode             `json:"mode"`
	Preset    string           `json:"preset,omitempty"`
	SwarmType string           `json:"swarm_type,omitempty"`
	Size      int              `json:"size,omitempty"`
	Agents    []spawner.Config `json:"agents,omitempty"`
}

// Deployment is the outcome of Deploy
type Deployment struct {
	ID         string                  `json:"deployment_id"`
	Mode       Mode                    `json:"deployment_mode"`
	Preset     string                  `json:"preset,omitempty"`
	Agents     []spawner.SpawnResult   `json:"deployed_agents"`
	Swarm      *models.SwarmDeployment `json:"swarm,omitempty"`
	DeployedAt time.Time               `json:"deployed_at"`
}

// Deployer spawns preset groups of agents and, for unit and swarm modes,
// registers them as a swarm
type Deployer struct {
	spawner     Spawner
	coordinator *Coordinator
	presets     PresetSource
	logger      logging.Logger
	now         func() time.Time
}

// DeployerOption configures a Deployer
type DeployerOption func(*Deployer)

// WithPresets overrides built-in presets
func WithPresets(p PresetSource) DeployerOption {
	return func(d *Deployer) { d.presets = p }
}

// WithDeployerLogger sets the structured logger
func WithDeployerLogger(l logging.Logger) DeployerOption {
	return func(d *Deployer) { d.logger = l }
}

// WithDeployerClock overrides the time source
func WithDeployerClock(now func() time.Time) DeployerOption {
	return func(d *Deployer) { d.now = now }
}

// NewDeployer creates a deployer
func NewDeployer(sp Spawner, coordinator *Coordinator, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		spawner:     sp,
		coordinator: coordinator,
		logger:      logging.NewNopLogger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy resolves the configs for req, spawns them and registers the swarm
// for unit and swarm modes. The first Controller config becomes the swarm
// controller and the parent of every other member.
func (d *Deployer) Deploy(ctx context.Context, req DeployRequest) (Deployment, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return Deployment{}, err
	}
	preset, configs, err := d.resolve(mode, req)
	if err != nil {
		return Deployment{}, err
	}
	if len(configs) == 0 {
		return Deployment{}, models.Validationf("deployment has no agents")
	}

	now := d.now()
	out := Deployment{
		ID:         fmt.Sprintf("deploy_%s_%s", now.Format("20060102_150405"), uuid.New().String()[:8]),
		Mode:       mode,
		Preset:     preset,
		DeployedAt: now,
	}

	grouped := mode == ModeUnit || mode == ModeSwarm
	controllerIdx := -1
	if grouped {
		for i, cfg := range configs {
			if cfg.Type == models.AgentTypeController {
				controllerIdx = i
				break
			}
		}
	}

	var controllerID string
	var spawnErrs []error
	if controllerIdx >= 0 {
		res, err := d.spawner.SpawnMany(ctx, []spawner.Request{{Config: configs[controllerIdx]}})
		if err != nil {
			return Deployment{}, fmt.Errorf("failed to spawn controller: %w", err)
		}
		out.Agents = append(out.Agents, res...)
		controllerID = res[0].Agent.ID
	}

	reqs := make([]spawner.Request, 0, len(configs))
	for i, cfg := range configs {
		if i == controllerIdx {
			continue
		}
		reqs = append(reqs, spawner.Request{Config: cfg, ParentID: controllerID})
	}
	if len(reqs) > 0 {
		res, err := d.spawner.SpawnMany(ctx, reqs)
		out.Agents = append(out.Agents, res...)
		if err != nil {
			spawnErrs = append(spawnErrs, err)
		}
	}
	if len(out.Agents) == 0 {
		return Deployment{}, fmt.Errorf("no agent could be deployed: %w", errors.Join(spawnErrs...))
	}

	if grouped {
		swarmType := req.SwarmType
		if swarmType == "" {
			swarmType = string(mode)
		}
		ids := make([]string, len(out.Agents))
		for i, a := range out.Agents {
			ids[i] = a.Agent.ID
		}
		dep, err := d.coordinator.Register(ctx, models.SwarmDeployment{
			SwarmID:      out.ID,
			SwarmType:    swarmType,
			ControllerID: controllerID,
			AgentIDs:     ids,
			Configuration: map[string]interface{}{
				"mode":   string(mode),
				"preset": preset,
				"size":   len(configs),
			},
		})
		if err != nil {
			spawnErrs = append(spawnErrs, fmt.Errorf("failed to register swarm: %w", err))
		} else {
			out.Swarm = &dep
		}
	}

	d.logger.WithContext(ctx).Info("deployment complete",
		logging.String("deployment_id", out.ID),
		logging.String("mode", string(mode)),
		logging.Int("agents", len(out.Agents)),
	)
	return out, errors.Join(spawnErrs...)
}

func (d *Deployer) resolve(mode Mode, req DeployRequest) (string, []spawner.Config, error) {
	switch mode {
	case ModeCustom:
		return "", cloneConfigs(req.Agents), nil
	case ModeSwarm:
		size := req.Size
		if size == 0 {
			size = defaultSwarmSize
		}
		if size < minSwarmSize {
			return "", nil, models.Validationf("swarm size must be at least %d, got %d", minSwarmSize, size)
		}
		name := req.SwarmType
		if name == "" {
			name = defaultSwarmType
		}
		if cfgs, ok := d.lookup(mode, name); ok {
			return name, cfgs, nil
		}
		return name, swarmPreset(size), nil
	}

	name := req.Preset
	if name == "" {
		name = defaultQuickPreset
		if mode == ModeUnit {
			name = defaultUnitPreset
		}
	}
	if cfgs, ok := d.lookup(mode, name); ok {
		return name, cfgs, nil
	}
	table := quickPresets
	if mode == ModeUnit {
		table = unitPresets
	}
	cfgs, ok := table[name]
	if !ok {
		return "", nil, models.Validationf("unknown %s preset %q", mode, name)
	}
	return name, cloneConfigs(cfgs), nil
}

func (d *Deployer) lookup(mode Mode, name string) ([]spawner.Config, bool) {
	if d.presets == nil {
		return nil, false
	}
	cfgs, ok := d.presets.Preset(string(mode), name)
	if !ok || len(cfgs) == 0 {
		return nil, false
	}
	return cloneConfigs(cfgs), true
}

func cloneConfigs(cfgs []spawner.Config) []spawner.Config {
	out := make([]spawner.Config, len(cfgs))
	for i, c := range cfgs {
		out[i] = c.Clone()
	}
	return out
}
