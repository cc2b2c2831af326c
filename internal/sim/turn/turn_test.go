package turn

import (
	"math"
	"math/rand/v2"
	"testing"
)

type seqSource struct {
	vals []float64
	i    int
}

func (s *seqSource) Uniform(min, max float64) float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

type randSource struct{ r *rand.Rand }

func (s randSource) Uniform(min, max float64) float64 { return min + s.r.Float64()*(max-min) }

func TestSeedSplitsHundredTrials(t *testing.T) {
	c := Seed(&seqSource{vals: []float64{62.7, 30.9}})
	if c != (Counters{Trials: 100, Straight: 62, Right: 30, Left: 8}) {
		t.Fatalf("Seed: %+v", c)
	}
	if !c.Valid() {
		t.Fatalf("seeded counters invalid: %+v", c)
	}
}

func TestPickNestedOrder(t *testing.T) {
	c := Counters{Trials: 100, Straight: 70, Right: 20, Left: 10}
	cases := []struct {
		u    float64
		want Turn
	}{
		{0, Straight},
		{69.99, Straight},
		{70, Right},
		{89.99, Right},
		{90, Left},
		{99.9, Left},
	}
	for _, tc := range cases {
		if got := c.Pick(tc.u); got != tc.want {
			t.Fatalf("Pick(%g)=%v want %v", tc.u, got, tc.want)
		}
	}
}

func TestPickFloorWindows(t *testing.T) {
	// Straight and right both under the floor: windows [0,5) and [5,5+0) overlap.
	c := Counters{Trials: 100, Straight: 1, Right: 2, Left: 97}
	if got := c.Pick(4.9); got != Straight {
		t.Fatalf("Pick(4.9)=%v want straight", got)
	}
	if got := c.Pick(5.5); got != Right {
		t.Fatalf("Pick(5.5)=%v want right", got)
	}
	if got := c.Pick(6.1); got != Left {
		t.Fatalf("Pick(6.1)=%v want left", got)
	}

	// Straight under the floor, right above it: right window ends at ps+pr.
	c = Counters{Trials: 100, Straight: 2, Right: 50, Left: 48}
	if got := c.Pick(3); got != Straight {
		t.Fatalf("Pick(3)=%v want straight", got)
	}
	if got := c.Pick(51); got != Right {
		t.Fatalf("Pick(51)=%v want right", got)
	}
	if got := c.Pick(52); got != Left {
		t.Fatalf("Pick(52)=%v want left", got)
	}
}

func TestRecordKeepsInvariant(t *testing.T) {
	c := Counters{Trials: 100, Straight: 33, Right: 33, Left: 34}
	for i := 0; i < 1000; i++ {
		c.Record(Turn(i % 3))
		if !c.Valid() {
			t.Fatalf("invariant broken after %d records: %+v", i+1, c)
		}
	}
	if c.Trials != 1100 {
		t.Fatalf("trials=%d", c.Trials)
	}
}

func TestReinforcementTracksEmpirical(t *testing.T) {
	src := randSource{r: rand.New(rand.NewPCG(7, 11))}
	c := Counters{Trials: 100, Straight: 70, Right: 20, Left: 10}
	var seen [3]int
	const n = 10000
	for i := 0; i < n; i++ {
		tr := c.Sample(src)
		c.Record(tr)
		seen[tr]++
	}
	ps, pr, pl := c.Probabilities()
	emp := [3]float64{
		100 * float64(seen[Straight]+70) / float64(n+100),
		100 * float64(seen[Right]+20) / float64(n+100),
		100 * float64(seen[Left]+10) / float64(n+100),
	}
	for i, p := range []float64{ps, pr, pl} {
		if math.Abs(p-emp[i]) > 1e-9 {
			t.Fatalf("outcome %d: probability %g, empirical %g", i, p, emp[i])
		}
		if p < 2 {
			t.Fatalf("outcome %d degenerated to %g%%", i, p)
		}
	}
	if ps > 99 {
		t.Fatalf("drifted to degenerate straight-only: %g", ps)
	}
}

func TestTextRoundTrip(t *testing.T) {
	for _, tr := range []Turn{Straight, Right, Left} {
		b, _ := tr.MarshalText()
		var got Turn
		if err := got.UnmarshalText(b); err != nil || got != tr {
			t.Fatalf("round trip %v: got %v err %v", tr, got, err)
		}
	}
	if _, err := Parse("u-turn"); err == nil {
		t.Fatalf("expected error")
	}
}
