package sla

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

type policyFile struct {
	Policies []struct {
		Priority             string `yaml:"priority"`
		FirstResponseMinutes int    `yaml:"first_response_minutes"`
		ResolutionMinutes    int    `yaml:"resolution_minutes"`
		Active               *bool  `yaml:"active"`
	} `yaml:"policies"`
}

// LoadPolicyFile reads policies from YAML. Entries are active unless they
// say otherwise; priorities accept names and p1..p4 tiers.
func LoadPolicyFile(path string) ([]domain.SLAPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sla policy file: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sla policy file: %w", err)
	}
	policies := make([]domain.SLAPolicy, 0, len(file.Policies))
	for _, entry := range file.Policies {
		priority, ok := domain.ParsePriority(entry.Priority)
		if !ok {
			return nil, fmt.Errorf("sla policy file: unknown priority %q", entry.Priority)
		}
		active := entry.Active == nil || *entry.Active
		policies = append(policies, domain.SLAPolicy{
			Priority:             priority,
			FirstResponseMinutes: entry.FirstResponseMinutes,
			ResolutionMinutes:    entry.ResolutionMinutes,
			Active:               active,
		})
	}
	return policies, nil
}
