package frame

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Time step policies accepted by configuration.
const (
	TimeStepVariable        = "variable"
	TimeStepFixed           = "fixed"
	TimeStepSmoothed        = "smoothed"
	TimeStepSmoothedPayback = "smoothed_payback"
)

// maxSmoothHistory bounds the smoothing window.
const maxSmoothHistory = 32

type TimeStepConfig struct {
	Policy string
	// FixedStep is the simulated time per step of the fixed policy.
	FixedStep time.Duration
	// History is the number of frame times the smoothed policies average,
	// after dropping Outliers from each end.
	History  int
	Outliers int
	// Rate weighs the trimmed mean against the last frame time.
	Rate float64
	// PaybackRate is the share of accumulated debt added back per frame.
	PaybackRate float64
}

// TimeStepPolicy turns measured frame times into simulation steps. It is
// owned by the frame loop and not safe for concurrent use.
type TimeStepPolicy struct {
	cfg     TimeStepConfig
	fixed   float64
	debt    float64
	history []float64 // oldest first
}

func NewTimeStepPolicy(cfg TimeStepConfig) (*TimeStepPolicy, error) {
	if cfg.Policy == "" {
		cfg.Policy = TimeStepVariable
	}
	p := &TimeStepPolicy{cfg: cfg}
	switch cfg.Policy {
	case TimeStepVariable:
	case TimeStepFixed:
		if cfg.FixedStep <= 0 {
			return nil, fmt.Errorf("fixed time step %s: must be positive", cfg.FixedStep)
		}
		p.fixed = cfg.FixedStep.Seconds()
	case TimeStepSmoothed, TimeStepSmoothedPayback:
		if cfg.History <= 0 || cfg.History > maxSmoothHistory {
			return nil, fmt.Errorf("smoothing history %d: want 1..%d", cfg.History, maxSmoothHistory)
		}
		if cfg.Outliers < 0 || cfg.Outliers*2 >= cfg.History {
			return nil, fmt.Errorf("smoothing outliers %d: must leave samples out of %d", cfg.Outliers, cfg.History)
		}
		if cfg.Rate <= 0 || cfg.Rate > 1 {
			return nil, fmt.Errorf("smoothing rate %g: want (0, 1]", cfg.Rate)
		}
		if cfg.Policy == TimeStepSmoothedPayback && cfg.PaybackRate <= 0 {
			return nil, fmt.Errorf("payback rate %g: must be positive", cfg.PaybackRate)
		}
		p.history = make([]float64, 0, cfg.History)
	default:
		return nil, fmt.Errorf("time step policy %q: want %s, %s, %s or %s", cfg.Policy,
			TimeStepVariable, TimeStepFixed, TimeStepSmoothed, TimeStepSmoothedPayback)
	}
	return p, nil
}

func (p *TimeStepPolicy) Name() string { return p.cfg.Policy }

// Debt returns the measured time not yet simulated, in seconds.
func (p *TimeStepPolicy) Debt() float64 { return p.debt }

// Frame consumes the measured time of one tick and returns how many frames
// to run and the delta time each of them simulates.
func (p *TimeStepPolicy) Frame(dt float64) (steps int, perStep float64) {
	switch p.cfg.Policy {
	case TimeStepFixed:
		p.debt += dt
		steps = int(p.debt / p.fixed)
		p.debt = math.Mod(p.debt, p.fixed)
		return steps, p.fixed
	case TimeStepSmoothed, TimeStepSmoothedPayback:
		step := p.smooth(dt)
		if p.cfg.Policy == TimeStepSmoothedPayback {
			p.debt += dt - step
			payback := p.debt * p.cfg.PaybackRate
			step += payback
			p.debt -= payback
		}
		return 1, step
	default:
		return 1, dt
	}
}

// smooth returns the trimmed mean of the history blended with the last
// frame, then records dt. Until the history holds enough samples to trim,
// dt is used as is.
func (p *TimeStepPolicy) smooth(dt float64) float64 {
	step := dt
	out := p.cfg.Outliers
	if n := len(p.history); n >= out*2+1 {
		sorted := slices.Clone(p.history)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted[out : n-out] {
			sum += v
		}
		avg := sum / float64(n-out*2)
		last := p.history[n-1]
		step = p.cfg.Rate*avg + (1-p.cfg.Rate)*last
	}
	if len(p.history) == p.cfg.History {
		copy(p.history, p.history[1:])
		p.history = p.history[:len(p.history)-1]
	}
	p.history = append(p.history, dt)
	return step
}
