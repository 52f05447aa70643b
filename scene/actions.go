package scene

import "gonum.org/v1/gonum/mat"

// ActionSource exposes the action tensors a host's action manager caches per
// step for one action term. RawActions is the policy-level command as it was
// received; LowLevelActions is the expanded actuator command the term
// computed from it. Both are N x D with one row per environment instance.
type ActionSource interface {
	RawActions() *mat.Dense
	LowLevelActions() *mat.Dense
}

// CachedActions is a plain ActionSource over tensors the host copied out of
// its action manager.
type CachedActions struct {
	Raw      *mat.Dense
	LowLevel *mat.Dense
}

// RawActions returns the cached policy-level command.
func (a CachedActions) RawActions() *mat.Dense {
	return a.Raw
}

// LowLevelActions returns the cached actuator-level command.
func (a CachedActions) LowLevelActions() *mat.Dense {
	return a.LowLevel
}
