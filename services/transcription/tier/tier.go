// Package tier holds the single table of per-tier capabilities. Every tier
// check in the service reads from a Table.
package tier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
)

type Policy struct {
	Tier              entity.Tier `yaml:"-"`
	MaxUploadMB       int64       `yaml:"max_upload_mb"`
	Segments          bool        `yaml:"segments"`
	Diarization       bool        `yaml:"diarization"`
	ExtendedAnalysis  bool        `yaml:"extended_analysis"`
	Documents         bool        `yaml:"documents"`
	RiskAssessment    bool        `yaml:"risk_assessment"`
	LiveTranscription bool        `yaml:"live_transcription"`
	LiveAnalytics     bool        `yaml:"live_analytics"`
}

func (p Policy) MaxUploadBytes() int64 {
	return p.MaxUploadMB * consts.MB
}

type Table map[entity.Tier]Policy

func Default() Table {
	return Table{
		entity.TierBasic: {
			Tier:        entity.TierBasic,
			MaxUploadMB: 25,
		},
		entity.TierPremium: {
			Tier:             entity.TierPremium,
			MaxUploadMB:      100,
			Segments:         true,
			Diarization:      true,
			ExtendedAnalysis: true,
			Documents:        true,
			RiskAssessment:   true,
		},
		entity.TierEnterprise: {
			Tier:              entity.TierEnterprise,
			MaxUploadMB:       500,
			Segments:          true,
			Diarization:       true,
			ExtendedAnalysis:  true,
			Documents:         true,
			RiskAssessment:    true,
			LiveTranscription: true,
			LiveAnalytics:     true,
		},
	}
}

type overrideFile struct {
	Tiers map[string]Policy `yaml:"tiers"`
}

// Load returns the default table with any tiers from the YAML file at path
// replacing their defaults. An empty path yields the defaults.
func Load(path string) (Table, error) {
	table := Default()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier policy file: %w", err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tier policy file: %w", err)
	}

	for name, policy := range file.Tiers {
		t, ok := entity.ParseTier(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("tier policy file: unknown tier %q", name)
		}
		if policy.MaxUploadMB <= 0 {
			return nil, fmt.Errorf("tier policy file: %s: max_upload_mb must be positive", name)
		}
		policy.Tier = t
		table[t] = policy
	}
	return table, nil
}

func (t Table) For(tier entity.Tier) (Policy, error) {
	p, ok := t[tier]
	if !ok {
		return Policy{}, apperrors.InvalidTier(string(tier))
	}
	return p, nil
}

// ApplyTranscript strips transcript detail the tier does not include.
func (p Policy) ApplyTranscript(r *entity.TranscriptResult) *entity.TranscriptResult {
	if r == nil {
		return nil
	}
	if !p.Segments {
		r.Segments = nil
		return r
	}
	if !p.Diarization {
		for i := range r.Segments {
			r.Segments[i].Speaker = ""
		}
	}
	return r
}

// ApplyAnalysis clears analysis fields outside the tier.
func (p Policy) ApplyAnalysis(a *entity.Analysis) *entity.Analysis {
	if a == nil {
		return nil
	}
	if !p.ExtendedAnalysis {
		a.Risks = nil
		a.Sentiment = nil
	}
	return a
}

// ApplyDocuments clears documents outside the tier; nil when the tier has none.
func (p Policy) ApplyDocuments(d *entity.Documents) *entity.Documents {
	if d == nil || !p.Documents {
		return nil
	}
	if !p.RiskAssessment {
		d.RiskAssessment = ""
	}
	return d
}
