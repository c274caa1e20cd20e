package manifest

import (
	"fmt"
	"strings"

	"github.com/legion/legion/pkg/models"
)

var presetModes = map[string]bool{"quick": true, "unit": true, "swarm": true}

// ValidateManifest checks a preset manifest. Every problem found is
// reported in one ValidationError.
func ValidateManifest(m *PresetManifest) error {
	var errors []string

	if m.APIVersion == "" {
		errors = append(errors, "apiVersion is required")
	} else if m.APIVersion != APIVersion {
		errors = append(errors, fmt.Sprintf("unsupported apiVersion: %s (expected %s)", m.APIVersion, APIVersion))
	}

	if m.Kind == "" {
		errors = append(errors, "kind is required")
	} else if m.Kind != KindPreset {
		errors = append(errors, fmt.Sprintf("invalid kind: %s (expected %s)", m.Kind, KindPreset))
	}

	if m.Metadata.Name == "" {
		errors = append(errors, "metadata.name is required")
	} else if !isValidName(m.Metadata.Name) {
		errors = append(errors, "metadata.name must be lowercase alphanumeric with hyphens")
	}

	errors = append(errors, validateSpec(&m.Spec)...)

	if len(errors) > 0 {
		return models.Validationf("manifest validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

func validateSpec(spec *PresetSpec) []string {
	var errors []string

	switch mode := strings.ToLower(spec.Mode); {
	case mode == "":
		errors = append(errors, "spec.mode is required")
	case !presetModes[mode]:
		errors = append(errors, fmt.Sprintf("invalid spec.mode: %s (expected quick, unit, or swarm)", spec.Mode))
	}

	if len(spec.Agents) == 0 {
		errors = append(errors, "spec.agents must have at least one agent")
	}
	for i, a := range spec.Agents {
		if a.Name == "" {
			errors = append(errors, fmt.Sprintf("spec.agents[%d].name is required", i))
		}
		if a.Role == "" {
			errors = append(errors, fmt.Sprintf("spec.agents[%d].role is required", i))
		}
		if _, err := models.ParseAgentType(a.Type); err != nil {
			errors = append(errors, fmt.Sprintf("invalid spec.agents[%d].type: %q", i, a.Type))
		}
		if a.Count < 0 {
			errors = append(errors, fmt.Sprintf("spec.agents[%d].count must be non-negative", i))
		}
		if p := a.Performance; p != nil {
			for field, v := range map[string]float64{
				"efficiency":     p.Efficiency,
				"accuracy":       p.Accuracy,
				"adaptability":   p.Adaptability,
				"specialization": p.Specialization,
			} {
				if v < 0 || v > 1 {
					errors = append(errors, fmt.Sprintf("spec.agents[%d].performance.%s must be within [0, 1]", i, field))
				}
			}
		}
	}
	return errors
}

// isValidName checks if a name follows the naming convention
func isValidName(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}

	// Must start with lowercase letter
	if name[0] < 'a' || name[0] > 'z' {
		return false
	}

	last := name[len(name)-1]
	if !((last >= 'a' && last <= 'z') || (last >= '0' && last <= '9')) {
		return false
	}

	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}

	return !strings.Contains(name, "--")
}
