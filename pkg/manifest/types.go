package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/spawner"
)

const (
	APIVersion = "legion.dev/v1"
	KindPreset = "Preset"
)

// PresetManifest declares a named deployment preset
type PresetManifest struct {
	APIVersion string     `yaml:"apiVersion" json:"apiVersion"`
	Kind       string     `yaml:"kind" json:"kind"`
	Metadata   PresetMeta `yaml:"metadata" json:"metadata"`
	Spec       PresetSpec `yaml:"spec" json:"spec"`
}

// PresetMeta contains preset identification
type PresetMeta struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	CreatedAt   time.Time         `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt   time.Time         `yaml:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// PresetSpec lists the agents a preset deploys
type PresetSpec struct {
	Mode   string      `yaml:"mode" json:"mode"` // quick, unit or swarm
	Agents []AgentSpec `yaml:"agents" json:"agents"`
}

// AgentSpec is one agent entry. Count > 1 replicates it with a numeric suffix.
type AgentSpec struct {
	Name          string                 `yaml:"name" json:"name"`
	Type          string                 `yaml:"type" json:"type"`
	Role          string                 `yaml:"role" json:"role"`
	Count         int                    `yaml:"count,omitempty" json:"count,omitempty"`
	Skills        []string               `yaml:"skills,omitempty" json:"skills,omitempty"`
	Tools         []string               `yaml:"tools,omitempty" json:"tools,omitempty"`
	Configuration map[string]interface{} `yaml:"configuration,omitempty" json:"configuration,omitempty"`
	Performance   *PerformanceSpec       `yaml:"performance,omitempty" json:"performance,omitempty"`
}

// PerformanceSpec seeds the four performance scores
type PerformanceSpec struct {
	Efficiency     float64 `yaml:"efficiency" json:"efficiency"`
	Accuracy       float64 `yaml:"accuracy" json:"accuracy"`
	Adaptability   float64 `yaml:"adaptability" json:"adaptability"`
	Specialization float64 `yaml:"specialization" json:"specialization"`
}

// Key identifies a preset by mode and name
func (m *PresetManifest) Key() string {
	return presetKey(m.Spec.Mode, m.Metadata.Name)
}

func presetKey(mode, name string) string {
	return strings.ToLower(mode) + "/" + name
}

// Size returns the number of agents the preset spawns
func (m *PresetManifest) Size() int {
	n := 0
	for _, a := range m.Spec.Agents {
		n += a.replicas()
	}
	return n
}

func (a AgentSpec) replicas() int {
	if a.Count < 1 {
		return 1
	}
	return a.Count
}

// HasSkill reports whether any agent in the preset carries skill
func (m *PresetManifest) HasSkill(skill string) bool {
	for _, a := range m.Spec.Agents {
		for _, s := range a.Skills {
			if strings.EqualFold(s, skill) {
				return true
			}
		}
	}
	return false
}

// Configs expands the preset into spawn configs
func (m *PresetManifest) Configs() ([]spawner.Config, error) {
	configs := make([]spawner.Config, 0, m.Size())
	for _, a := range m.Spec.Agents {
		agentType, err := models.ParseAgentType(a.Type)
		if err != nil {
			return nil, fmt.Errorf("preset %s agent %s: %w", m.Metadata.Name, a.Name, err)
		}
		n := a.replicas()
		for i := 1; i <= n; i++ {
			name := a.Name
			if n > 1 {
				name = fmt.Sprintf("%s-%03d", a.Name, i)
			}
			cfg := spawner.Config{
				Name:   name,
				Type:   agentType,
				Role:   a.Role,
				Skills: append([]string(nil), a.Skills...),
				Tools:  append([]string(nil), a.Tools...),
			}
			if a.Configuration != nil {
				cfg.Configuration = make(map[string]interface{}, len(a.Configuration)+1)
				for k, v := range a.Configuration {
					cfg.Configuration[k] = v
				}
			}
			if cfg.Configuration == nil {
				cfg.Configuration = make(map[string]interface{}, 1)
			}
			cfg.Configuration["preset"] = m.Metadata.Name
			if p := a.Performance; p != nil {
				cfg.Performance = &models.Performance{
					Efficiency:     p.Efficiency,
					Accuracy:       p.Accuracy,
					Adaptability:   p.Adaptability,
					Specialization: p.Specialization,
				}
			}
			configs = append(configs, cfg)
		}
	}
	return configs, nil
}
