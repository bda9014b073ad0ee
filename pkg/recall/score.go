package recall

import (
	"math"
	"time"

	"github.com/mnemolabs/mnemo/pkg/memory"
)

// Mood multipliers applied at recall time when the caller reports a
// negative mood. Conflict memories surface harder than bond memories.
const (
	conflictMoodBoost = 1.5
	bondMoodBoost     = 1.3
)

// negativeMoods is the fixed set of moods that trigger klass weighting.
var negativeMoods = map[string]bool{
	"sad":        true,
	"angry":      true,
	"anxious":    true,
	"depressed":  true,
	"upset":      true,
	"lonely":     true,
	"stressed":   true,
	"frustrated": true,
}

// Score computes the canonical decayed relevance of a memory at the given
// instant. Mood is an explicit recall-time parameter, never stored: pass ""
// for the unweighted score used by maintenance and display listings.
//
//	base      = clamp(importance + manual_boost, 0, 1)
//	decay     = exp(-ln2/halflife_days * age_days)
//	hit_boost = 1 + 0.35 * ln(1 + hits)
func Score(m *memory.Memory, now time.Time, mood string) float64 {
	ageDays := now.Sub(m.AgeReference()).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	base := m.Importance + m.ManualBoost
	if base < 0 {
		base = 0
	} else if base > 1 {
		base = 1
	}

	halflife := m.HalflifeDays
	if halflife <= 0 {
		halflife = 1
	}

	decay := math.Exp(-math.Ln2 / halflife * ageDays)
	hitBoost := 1 + 0.35*math.Log1p(float64(m.Hits))

	score := base * decay * hitBoost

	if negativeMoods[mood] {
		switch m.Klass {
		case memory.KlassConflict:
			score *= conflictMoodBoost
		case memory.KlassBond:
			score *= bondMoodBoost
		}
	}

	return score
}
