package decision

import (
	"math"
	"reflect"
	"testing"
)

func closeTo(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestDecisionValid(t *testing.T) {
	cases := []struct {
		name string
		d    Decision
		want bool
	}{
		{"unset", Unset, true},
		{"balanced", Decision{0.5, 0.3, 0.2}, true},
		{"negative", Decision{-0.1, 0.6, 0.5}, false},
		{"sums to 2", Decision{1, 1, 0}, false},
		{"within tolerance", Decision{0.5, 0.5, 1e-10}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.d.Valid(); got != c.want {
				t.Errorf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestCombineEmpty(t *testing.T) {
	got := Combine(nil, nil)
	if got != Unset {
		t.Errorf("Combine(nil) = %v, want %v", got, Unset)
	}
}

func TestCombineSingleton(t *testing.T) {
	d := Decision{Accept: 0.3, Restrict: 0.2, Unknown: 0.5}
	got := Combine([]Decision{d}, []float64{1.0})
	if !closeTo(got.Accept, d.Accept, tolerance) ||
		!closeTo(got.Restrict, d.Restrict, tolerance) ||
		!closeTo(got.Unknown, d.Unknown, tolerance) {
		t.Errorf("Combine([d]) = %+v, want %+v", got, d)
	}
}

func TestCombineOrderIndependent(t *testing.T) {
	d1 := Decision{Accept: 0.6, Restrict: 0.1, Unknown: 0.3}
	d2 := Decision{Accept: 0.1, Restrict: 0.4, Unknown: 0.5}
	w1, w2 := 1.5, 0.8

	a := Combine([]Decision{d1, d2}, []float64{w1, w2})
	b := Combine([]Decision{d2, d1}, []float64{w2, w1})

	if !closeTo(a.Accept, b.Accept, tolerance) ||
		!closeTo(a.Restrict, b.Restrict, tolerance) ||
		!closeTo(a.Unknown, b.Unknown, tolerance) {
		t.Errorf("combine not order-independent: %+v vs %+v", a, b)
	}
}

func TestCombineSumsToOne(t *testing.T) {
	inputs := []Decision{
		{Accept: 0.7, Restrict: 0.1, Unknown: 0.2},
		{Accept: 0.2, Restrict: 0.3, Unknown: 0.5},
		{Accept: 0.0, Restrict: 0.9, Unknown: 0.1},
	}
	weights := []float64{1, 1, 1}
	got := Combine(inputs, weights)
	sum := got.Accept + got.Restrict + got.Unknown
	if !closeTo(sum, 1.0, tolerance) {
		t.Errorf("combined sum = %v, want 1.0", sum)
	}
	if got.Accept < 0 || got.Restrict < 0 || got.Unknown < 0 {
		t.Errorf("combined has negative component: %+v", got)
	}
}

func TestCombineFullConflictResetsToUnset(t *testing.T) {
	// Two certain, opposite decisions fully conflict: normalizer -> 0.
	a := Decision{Accept: 1, Restrict: 0, Unknown: 0}
	b := Decision{Accept: 0, Restrict: 1, Unknown: 0}
	got := Combine([]Decision{a, b}, []float64{1, 1})
	if got != Unset {
		t.Errorf("full conflict Combine() = %+v, want %+v", got, Unset)
	}
}

func TestCombineAssociative(t *testing.T) {
	d1 := Decision{Accept: 0.4, Restrict: 0.2, Unknown: 0.4}
	d2 := Decision{Accept: 0.1, Restrict: 0.5, Unknown: 0.4}
	d3 := Decision{Accept: 0.3, Restrict: 0.3, Unknown: 0.4}

	left := combinePair(combinePair(d1, d2), d3)
	right := combinePair(d1, combinePair(d2, d3))

	if !closeTo(left.Accept, right.Accept, 1e-6) ||
		!closeTo(left.Restrict, right.Restrict, 1e-6) ||
		!closeTo(left.Unknown, right.Unknown, 1e-6) {
		t.Errorf("combine not associative: %+v vs %+v", left, right)
	}
}

func TestCombineWeightScaling(t *testing.T) {
	d := Decision{Accept: 0.2, Restrict: 0.2, Unknown: 0.6}
	lowWeight := Combine([]Decision{d, Unset}, []float64{0.01, 1})
	highWeight := Combine([]Decision{d, Unset}, []float64{100, 1})

	if !closeTo(lowWeight.Unknown, 1.0, 1e-2) {
		t.Errorf("low weight should leave result near unknown, got %+v", lowWeight)
	}
	if highWeight.Unknown > lowWeight.Unknown {
		t.Errorf("high weight should reduce unknown mass relative to low weight: %+v vs %+v", highWeight, lowWeight)
	}
}

func TestCombineTagsIdempotent(t *testing.T) {
	a := []string{"evil", "bot"}
	union := CombineTags(a, a)
	if !reflect.DeepEqual(union, []string{"bot", "evil"}) {
		t.Errorf("CombineTags(a, a) = %v, want sorted union of a", union)
	}
}

func TestCombineTagsOrderIndependent(t *testing.T) {
	a := []string{"zeta", "alpha"}
	b := []string{"beta"}
	x := CombineTags(a, b)
	y := CombineTags(b, a)
	if !reflect.DeepEqual(x, y) {
		t.Errorf("CombineTags not order independent: %v vs %v", x, y)
	}
	if !reflect.DeepEqual(x, []string{"alpha", "beta", "zeta"}) {
		t.Errorf("CombineTags result = %v, want sorted union", x)
	}
}

func TestCombineTagsEmpty(t *testing.T) {
	got := CombineTags()
	if len(got) != 0 {
		t.Errorf("CombineTags() = %v, want empty", got)
	}
}

func TestScaleByWeightNonPositiveTreatedAsOne(t *testing.T) {
	d := Decision{Accept: 0.5, Restrict: 0.3, Unknown: 0.2}
	zero := scaleByWeight(d, 0)
	one := scaleByWeight(d, 1)
	if !closeTo(zero.Accept, one.Accept, tolerance) {
		t.Errorf("scaleByWeight(0) should behave like weight 1, got %+v vs %+v", zero, one)
	}
}

func TestDecisionNormalizedZeroSum(t *testing.T) {
	d := Decision{}
	got := d.normalized()
	if got != Unset {
		t.Errorf("normalized zero decision = %+v, want %+v", got, Unset)
	}
}

func TestFloatTolerance(t *testing.T) {
	if !closeTo(math.Nextafter(1, 2), 1, tolerance) {
		t.Fatal("sanity check of closeTo failed")
	}
}
