package rng

import (
	"errors"
	"fmt"
	"math"
)

// Distribution is a sampleable value, typically a cruising speed in m/s.
type Distribution interface {
	Sample(src Source) float64
}

type Constant struct {
	Value float64
}

func (c Constant) Sample(Source) float64 { return c.Value }

type Uniform struct {
	Min float64
	Max float64
}

func (u Uniform) Sample(src Source) float64 { return src.Uniform(u.Min, u.Max) }

// Normal draws from a normal distribution clamped to [Min, Max].
type Normal struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

func (n Normal) Sample(src Source) float64 {
	u1 := src.Uniform(0, 1)
	u2 := src.Uniform(0, 1)
	if u1 <= 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return math.Max(n.Min, math.Min(n.Max, n.Mean+z*n.StdDev))
}

// SpeedSpec is the configuration form of a Distribution.
//
//	model: uniform
//	min: 16
//	max: 18
type SpeedSpec struct {
	Model string  `yaml:"model" json:"model"`
	Min   float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max   float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Value float64 `yaml:"value,omitempty" json:"value,omitempty"`
	Mean  float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Std   float64 `yaml:"std,omitempty" json:"std,omitempty"`
}

var ErrUnknownModel = errors.New("unknown speed model")

func (s SpeedSpec) Build() (Distribution, error) {
	switch s.Model {
	case "", "uniform":
		if s.Max < s.Min {
			return nil, fmt.Errorf("uniform speed: max %g < min %g", s.Max, s.Min)
		}
		if s.Min < 0 {
			return nil, fmt.Errorf("uniform speed: negative min %g", s.Min)
		}
		return Uniform{Min: s.Min, Max: s.Max}, nil
	case "constant":
		if s.Value < 0 {
			return nil, fmt.Errorf("constant speed: negative value %g", s.Value)
		}
		return Constant{Value: s.Value}, nil
	case "normal":
		if s.Std < 0 || s.Max < s.Min || s.Min < 0 {
			return nil, fmt.Errorf("normal speed: std=%g range=[%g,%g]", s.Std, s.Min, s.Max)
		}
		return Normal{Mean: s.Mean, StdDev: s.Std, Min: s.Min, Max: s.Max}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, s.Model)
}
