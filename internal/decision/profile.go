// Package decision turns a notice and its analysis into a scored bid/no-bid
// recommendation.
package decision

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Profile holds the company-specific tables the factor calculator matches
// against. Agency names are compared case-insensitively with the notice's
// top-level department, so SAM.gov spellings belong here alongside the
// common names.
type Profile struct {
	StrategicKeywords []string `yaml:"strategic_keywords"`
	TargetNAICS       []string `yaml:"target_naics"`
	PreferredAgencies []string `yaml:"preferred_agencies"`
	FamiliarAgencies  []string `yaml:"familiar_agencies"`
	Capabilities      []string `yaml:"capabilities"`
	RiskKeywords      []string `yaml:"risk_keywords"`
}

func DefaultProfile() *Profile {
	return &Profile{
		StrategicKeywords: []string{"innovation", "emerging", "strategic", "critical", "mission"},
		TargetNAICS:       []string{"541330", "541511", "541512", "541513", "541519"},
		PreferredAgencies: []string{
			"Department of Defense", "DEPT OF DEFENSE",
			"Department of Energy", "ENERGY, DEPARTMENT OF",
			"NASA", "NATIONAL AERONAUTICS AND SPACE ADMINISTRATION",
		},
		FamiliarAgencies: []string{
			"Department of Defense", "DEPT OF DEFENSE",
			"Department of Energy", "ENERGY, DEPARTMENT OF",
		},
		Capabilities: []string{
			"software development", "system integration", "cybersecurity",
			"cloud computing", "data analytics", "artificial intelligence",
			"engineering", "consulting", "project management",
		},
		RiskKeywords: []string{
			"cutting-edge", "experimental", "unproven", "new technology",
			"research", "breakthrough", "novel", "innovative",
		},
	}
}

// LoadProfile reads a YAML profile. Lists the file leaves out keep their
// defaults.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	// Editors truncate before writing; an empty read is never a real profile.
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("profile %s is empty", path)
	}
	var file Profile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	p := DefaultProfile()
	merge := func(dst *[]string, src []string) {
		if cleaned := cleanList(src); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
	merge(&p.StrategicKeywords, file.StrategicKeywords)
	merge(&p.TargetNAICS, file.TargetNAICS)
	merge(&p.PreferredAgencies, file.PreferredAgencies)
	merge(&p.FamiliarAgencies, file.FamiliarAgencies)
	merge(&p.Capabilities, file.Capabilities)
	merge(&p.RiskKeywords, file.RiskKeywords)
	return p, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *Profile) isTargetNAICS(code string) bool {
	code = strings.TrimSpace(code)
	for _, c := range p.TargetNAICS {
		if c == code {
			return true
		}
	}
	return false
}

func (p *Profile) isPreferredAgency(department string) bool {
	return containsFold(p.PreferredAgencies, department)
}

func (p *Profile) isFamiliarAgency(department string) bool {
	return containsFold(p.FamiliarAgencies, department)
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// ProfileStore hands out the current profile and lets Watch swap it.
type ProfileStore struct {
	p atomic.Pointer[Profile]
}

func NewProfileStore(p *Profile) *ProfileStore {
	s := &ProfileStore{}
	s.Set(p)
	return s
}

func (s *ProfileStore) Get() *Profile {
	if s == nil {
		return DefaultProfile()
	}
	if p := s.p.Load(); p != nil {
		return p
	}
	return DefaultProfile()
}

func (s *ProfileStore) Set(p *Profile) {
	if p == nil {
		p = DefaultProfile()
	}
	s.p.Store(p)
}
