package cache

import (
	"math"
	"sort"

	"github.com/cinefront/cinefront/pkg/types"
)

// Heuristic weights for the behavior predictor
const (
	positionalPrior    = 0.9
	positionalDecay    = 0.8
	categoryBoost      = 0.1
	scrollDampingScale = 3000.0 // px/s at which the estimate halves
	engagementDwellMs  = 5000
	engagementBoost    = 0.05
)

// BehaviorPredictor ranks the content visible to a viewer by how likely it
// is to be requested next. It is a pure function of its input and keeps no
// state between calls.
type BehaviorPredictor struct {
	// MaxCandidates caps the ranked list before thresholding. Zero means no cap.
	MaxCandidates int
}

// NewBehaviorPredictor creates a predictor returning at most maxCandidates results
func NewBehaviorPredictor(maxCandidates int) *BehaviorPredictor {
	if maxCandidates < 0 {
		maxCandidates = 0
	}
	return &BehaviorPredictor{MaxCandidates: maxCandidates}
}

type scoredCandidate struct {
	types.PredictionCandidate
	position int
}

// Predict returns candidates with probability strictly above threshold,
// highest first. A nil context or one without related content yields an
// empty list.
func (p *BehaviorPredictor) Predict(ic *types.InteractionContext, threshold float64) []types.PredictionCandidate {
	if ic == nil || len(ic.Related) == 0 {
		return nil
	}

	damping := 1 / (1 + math.Abs(finiteOrZero(ic.ScrollVelocity))/scrollDampingScale)
	engaged := ic.DwellTimeMs >= engagementDwellMs

	index := make(map[string]int, len(ic.Related))
	scored := make([]scoredCandidate, 0, len(ic.Related))

	for pos, ref := range ic.Related {
		if ref.ID == "" || ref.ID == ic.CurrentContentID {
			continue
		}

		prob := ref.Score
		if !(prob > 0 && prob <= 1) {
			prob = positionalPrior * math.Pow(positionalDecay, float64(pos))
		}
		prob += categoryAffinity(ref.CategoryID, ic.RecentCategoryIDs)
		prob *= damping
		if engaged && ref.Kind == types.KindMedia {
			prob += engagementBoost
		}
		prob = clampUnit(prob)

		if i, seen := index[ref.ID]; seen {
			if prob > scored[i].Probability {
				scored[i].Probability = prob
				scored[i].Kind = ref.Kind
			}
			continue
		}
		index[ref.ID] = len(scored)
		scored = append(scored, scoredCandidate{
			PredictionCandidate: types.PredictionCandidate{
				TargetID:    ref.ID,
				Kind:        ref.Kind,
				Probability: prob,
			},
			position: pos,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Probability != scored[j].Probability {
			return scored[i].Probability > scored[j].Probability
		}
		return scored[i].position < scored[j].position
	})

	if p != nil && p.MaxCandidates > 0 && len(scored) > p.MaxCandidates {
		scored = scored[:p.MaxCandidates]
	}

	out := make([]types.PredictionCandidate, 0, len(scored))
	for _, c := range scored {
		if c.Probability > threshold {
			out = append(out, c.PredictionCandidate)
		}
	}
	return out
}

// categoryAffinity boosts content from recently viewed categories; the most
// recent category gets the full boost.
func categoryAffinity(category string, recent []string) float64 {
	if category == "" || len(recent) == 0 {
		return 0
	}
	for i, c := range recent {
		if c == category {
			return categoryBoost * (1 - float64(i)/float64(len(recent)))
		}
	}
	return 0
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
