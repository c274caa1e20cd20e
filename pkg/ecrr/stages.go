// Package ecrr implements the Emulate-Condense-Repurpose-Redeploy pipeline
// that turns a target description into deployed legion agents.
package ecrr

import (
	"context"
	"strings"

	"github.com/legion/legion/pkg/models"
)

// Target names what to emulate
type Target struct {
	Name  string
	Type  models.TargetType
	Depth models.Depth
}

// Normalize validates t and fills in the default depth
func (t Target) Normalize() (Target, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return t, models.Validationf("target name is required")
	}
	typ, err := models.ParseTargetType(string(t.Type))
	if err != nil {
		return t, err
	}
	t.Type = typ
	depth, err := models.ParseDepth(string(t.Depth))
	if err != nil {
		return t, err
	}
	t.Depth = depth
	return t, nil
}

// Emulator builds a model of a target
type Emulator interface {
	Emulate(ctx context.Context, target Target) (*models.EmulationResult, error)
}

// Condenser reduces an emulation to its essential parts
type Condenser interface {
	Condense(ctx context.Context, emulation *models.EmulationResult) (*models.CondensationResult, error)
}

// Repurposer maps a condensation onto agent components for the legion
type Repurposer interface {
	Repurpose(ctx context.Context, condensation *models.CondensationResult, legion models.LegionContext) (*models.RepurposeResult, error)
}

// Redeployer spawns the agents a repurpose result describes
type Redeployer interface {
	Redeploy(ctx context.Context, repurpose *models.RepurposeResult, cfg models.DeploymentConfig) (*models.DeploymentResult, error)
}
