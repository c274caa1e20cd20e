package registry

import (
	"sort"
	"strings"

	"github.com/legion/legion/pkg/models"
)

func hasSkill(skills []string, want string) bool {
	for _, s := range skills {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// SkillMatcher compares required skill tags against an agent's skills
type SkillMatcher struct{}

// Match reports whether every required skill is present, case-insensitively
func (SkillMatcher) Match(required, skills []string) bool {
	for _, req := range required {
		if !hasSkill(skills, req) {
			return false
		}
	}
	return true
}

// Score returns the matched fraction of required skills with a small bonus
// for extra skills, capped at 1
func (SkillMatcher) Score(required, skills []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	if len(skills) == 0 {
		return 0.0
	}

	matched := 0
	for _, req := range required {
		if hasSkill(skills, req) {
			matched++
		}
	}
	score := float64(matched) / float64(len(required))

	if extra := len(skills) - matched; extra > 0 {
		bonus := float64(extra) * 0.01
		if bonus > 0.1 {
			bonus = 0.1
		}
		score += bonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SelectAgent picks the best online agent holding every required skill.
// Ties on skill score go to higher average performance, then higher level,
// then the older agent.
func SelectAgent(agents []models.Agent, required []string) (models.Agent, error) {
	var m SkillMatcher
	eligible := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Status == models.AgentStatusOnline && m.Match(required, a.Skills) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return models.Agent{}, models.NotFoundf("no online agent with skills %v", required)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, sj := m.Score(required, eligible[i].Skills), m.Score(required, eligible[j].Skills)
		if si != sj {
			return si > sj
		}
		pi, pj := eligible[i].Performance.Average(), eligible[j].Performance.Average()
		if pi != pj {
			return pi > pj
		}
		if eligible[i].Level != eligible[j].Level {
			return eligible[i].Level > eligible[j].Level
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return eligible[0], nil
}
