// Package turn is the self-reinforcing straight/right/left chooser consulted
// at every intersection.
package turn

import "fmt"

type Turn int

const (
	Straight Turn = iota
	Right
	Left
)

func (t Turn) String() string {
	switch t {
	case Straight:
		return "straight"
	case Right:
		return "right"
	case Left:
		return "left"
	}
	return fmt.Sprintf("turn(%d)", int(t))
}

func Parse(s string) (Turn, error) {
	switch s {
	case "straight":
		return Straight, nil
	case "right":
		return Right, nil
	case "left":
		return Left, nil
	}
	return 0, fmt.Errorf("unknown turn %q", s)
}

func (t Turn) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Turn) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// FloorPercent is the minimum window granted to an unpopular outcome.
const FloorPercent = 5.0

// SeedTrials is the number of virtual trials a fresh chooser starts with.
const SeedTrials = 100

// Source draws uniform values in [min, max).
type Source interface {
	Uniform(min, max float64) float64
}

// Counters tracks how often each outcome was taken.
// Straight+Right+Left == Trials after every update.
type Counters struct {
	Trials   int `json:"trials"`
	Straight int `json:"straight"`
	Right    int `json:"right"`
	Left     int `json:"left"`
}

// Seed splits SeedTrials virtual trials three ways at random.
func Seed(src Source) Counters {
	s := int(src.Uniform(0, SeedTrials))
	r := int(src.Uniform(0, float64(SeedTrials-s)))
	return Counters{Trials: SeedTrials, Straight: s, Right: r, Left: SeedTrials - s - r}
}

// Probabilities returns the percentage of trials for each outcome.
func (c Counters) Probabilities() (straight, right, left float64) {
	if c.Trials <= 0 {
		return 0, 0, 0
	}
	n := float64(c.Trials)
	return 100 * float64(c.Straight) / n, 100 * float64(c.Right) / n, 100 * float64(c.Left) / n
}

// Pick maps a draw u in [0,100) to an outcome. Straight is checked first,
// then Right; Left takes whatever is left. Outcomes below FloorPercent still
// get a FloorPercent window, so windows may overlap.
func (c Counters) Pick(u float64) Turn {
	ps, pr, _ := c.Probabilities()
	if (ps >= FloorPercent && u < ps) || (ps < FloorPercent && u < FloorPercent) {
		return Straight
	}
	if (pr >= FloorPercent && u < ps+pr) || (pr < FloorPercent && u < ps+FloorPercent) {
		return Right
	}
	return Left
}

// Sample draws one outcome.
func (c Counters) Sample(src Source) Turn {
	return c.Pick(src.Uniform(0, 100))
}

// Record counts an executed turn.
func (c *Counters) Record(t Turn) {
	c.Trials++
	switch t {
	case Straight:
		c.Straight++
	case Right:
		c.Right++
	default:
		c.Left++
	}
}

// Valid reports whether the counter invariant holds.
func (c Counters) Valid() bool {
	return c.Trials >= 1 && c.Straight >= 0 && c.Right >= 0 && c.Left >= 0 &&
		c.Straight+c.Right+c.Left == c.Trials
}
