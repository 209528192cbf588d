// Package decision implements the evidence algebra: the Decision value
// type and the Dempster-Shafer combination operator used to merge the
// belief distributions emitted by independent plugins into one.
package decision

import "sort"

// tolerance bounds the allowed drift of accept+restrict+unknown from 1.0.
const tolerance = 1e-9

// Decision is a belief distribution over {accept, restrict, unknown}.
// The three components are non-negative and sum to 1 within tolerance.
type Decision struct {
	Accept   float64 `json:"accept"`
	Restrict float64 `json:"restrict"`
	Unknown  float64 `json:"unknown"`
}

// Unset is the zero-information decision: all mass on unknown.
var Unset = Decision{Accept: 0, Restrict: 0, Unknown: 1}

// Valid reports whether d satisfies the Decision invariants.
func (d Decision) Valid() bool {
	if d.Accept < 0 || d.Restrict < 0 || d.Unknown < 0 {
		return false
	}
	sum := d.Accept + d.Restrict + d.Unknown
	diff := sum - 1.0
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// normalized rescales d so its components sum to exactly 1, assuming the
// current sum is positive.
func (d Decision) normalized() Decision {
	sum := d.Accept + d.Restrict + d.Unknown
	if sum <= 0 {
		return Unset
	}
	return Decision{
		Accept:   d.Accept / sum,
		Restrict: d.Restrict / sum,
		Unknown:  d.Unknown / sum,
	}
}

// scaleByWeight scales a decision's committed mass (accept and restrict)
// by a positive plugin weight, leaves unknown as it is, and renormalizes.
// A weight below 1.0 moves mass toward unknown, a weight above 1.0 moves
// it away. A non-positive weight is treated as 1.0: weight is a
// plugin-configured amplifier, not a veto.
func scaleByWeight(d Decision, weight float64) Decision {
	if weight <= 0 {
		weight = 1.0
	}
	return Decision{
		Accept:   d.Accept * weight,
		Restrict: d.Restrict * weight,
		Unknown:  d.Unknown,
	}.normalized()
}

// Combine merges decisions via Dempster-Shafer combination over the frame
// {accept, restrict}, treating unknown as mass assigned to the union of
// both. Each input is first scaled by its corresponding weight (weights[i]
// pairs with decisions[i]) and renormalized. Combine is commutative and
// associative within floating-point tolerance. An empty input yields
// Unset. A full-conflict result (normalizer zero) resets to Unset rather
// than failing.
func Combine(decisions []Decision, weights []float64) Decision {
	if len(decisions) == 0 {
		return Unset
	}

	acc := Unset
	for i, d := range decisions {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		acc = combinePair(acc, scaleByWeight(d, w))
	}
	return acc
}

// combinePair applies the two-source Dempster-Shafer combination rule to
// a and b, both already normalized.
func combinePair(a, b Decision) Decision {
	accept := a.Accept*b.Accept + a.Accept*b.Unknown + a.Unknown*b.Accept
	restrict := a.Restrict*b.Restrict + a.Restrict*b.Unknown + a.Unknown*b.Restrict
	unknown := a.Unknown * b.Unknown

	conflict := a.Accept*b.Restrict + a.Restrict*b.Accept
	normalizer := 1.0 - conflict
	if normalizer <= tolerance {
		return Unset
	}

	return Decision{
		Accept:   accept / normalizer,
		Restrict: restrict / normalizer,
		Unknown:  unknown / normalizer,
	}
}

// CombineTags computes the deterministic (sorted ascending), duplicate-free
// union of one or more tag sets.
func CombineTags(tagSets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, tags := range tagSets {
		for _, t := range tags {
			seen[t] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
