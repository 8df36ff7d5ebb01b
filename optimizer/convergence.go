package optimizer

import (
	"math"

	"linclass/ml"
)

type convergencePolicy interface {
	// satisfied reports whether the starting loss already meets the policy.
	satisfied(loss float64) bool
	// converged is checked after each step.
	converged(prev, next float64) bool
}

func (e *Engine) policy() convergencePolicy {
	if e.config.Kind == ml.Hinge {
		return descentPolicy{tol: e.config.Tolerance}
	}
	return bandPolicy{reference: e.config.ReferenceLoss, band: e.config.Band}
}

// descentPolicy stops once one step changes the loss by at most tol. The
// subgradient step is not monotone, so a step that oscillates back to about
// the same loss also stops the run.
type descentPolicy struct {
	tol float64
}

func (p descentPolicy) satisfied(float64) bool {
	return false
}

func (p descentPolicy) converged(prev, next float64) bool {
	return math.Abs(prev-next) <= p.tol
}

// bandPolicy stops once the loss is within band of the closed-form optimum.
type bandPolicy struct {
	reference float64
	band      float64
}

func (p bandPolicy) satisfied(loss float64) bool {
	return loss-p.reference <= p.band
}

func (p bandPolicy) converged(_, next float64) bool {
	return p.satisfied(next)
}
