// Package control turns latency and utilization error signals into replica
// recommendations with PID loops, cooldowns and a hysteresis band.
package control

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/scaling"
)

// historyLimit caps the samples a PID keeps for analysis.
const historyLimit = 100

// Gains are the proportional, integral and derivative coefficients.
type Gains struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
}

// PIDConfig configures a single control loop. Outputs are replica counts.
type PIDConfig struct {
	Setpoint   float64
	Gains      Gains
	MinOutput  int
	MaxOutput  int
	SampleTime time.Duration
	AntiWindup float64
}

// Sample is one recorded controller step.
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	Value           float64   `json:"value"`
	Setpoint        float64   `json:"setpoint"`
	Error           float64   `json:"error"`
	PTerm           float64   `json:"p_term"`
	ITerm           float64   `json:"i_term"`
	DTerm           float64   `json:"d_term"`
	Output          float64   `json:"output"`
	CurrentReplicas int       `json:"current_replicas"`
	TargetReplicas  int       `json:"target_replicas"`
}

// PID is a discrete PID controller with a clamped integral.
// It is not safe for concurrent use; callers serialize Update calls.
type PID struct {
	cfg PIDConfig

	lastTime   time.Time
	lastError  float64
	integral   float64
	lastOutput float64
	history    []Sample

	now func() time.Time
}

// NewPID creates a controller. It panics on a negative setpoint.
func NewPID(cfg PIDConfig) *PID {
	if cfg.Setpoint < 0 {
		panic(fmt.Sprintf("control: negative setpoint %v", cfg.Setpoint))
	}
	return &PID{cfg: cfg, lastOutput: float64(cfg.MinOutput), now: time.Now}
}

// Setpoint returns the current target value.
func (p *PID) Setpoint() float64 { return p.cfg.Setpoint }

// Gains returns the current coefficients.
func (p *PID) Gains() Gains { return p.cfg.Gains }

// Update feeds one observation and returns the loop's own recommendation.
// Calls closer together than SampleTime return no_change without touching
// controller state.
func (p *PID) Update(value float64, replicas int) scaling.Decision {
	if p.cfg.Setpoint < 0 {
		panic(fmt.Sprintf("control: negative setpoint %v", p.cfg.Setpoint))
	}
	now := p.now()

	dt := p.cfg.SampleTime.Seconds()
	if !p.lastTime.IsZero() {
		elapsed := now.Sub(p.lastTime)
		if elapsed < p.cfg.SampleTime {
			return scaling.Decision{
				Action:          scaling.ActionNoChange,
				CurrentReplicas: replicas,
				TargetReplicas:  replicas,
				Reason:          fmt.Sprintf("sample time not elapsed (%.1fs < %.1fs)", elapsed.Seconds(), dt),
				Error:           p.lastError,
				ITerm:           p.integral,
				CreatedAt:       now,
			}
		}
		dt = elapsed.Seconds()
	}

	errv := value - p.cfg.Setpoint
	pTerm := p.cfg.Gains.Kp * errv

	p.integral += errv * dt
	p.integral = max(-p.cfg.AntiWindup, min(p.cfg.AntiWindup, p.integral))
	iTerm := p.cfg.Gains.Ki * p.integral

	var dTerm float64
	if dt > 0 {
		dTerm = p.cfg.Gains.Kd * (errv - p.lastError) / dt
	}

	output := pTerm + iTerm + dTerm
	target := replicas + int(math.RoundToEven(output))
	target = max(p.cfg.MinOutput, min(p.cfg.MaxOutput, target))

	action := scaling.ActionNoChange
	switch {
	case target > replicas:
		action = scaling.ActionScaleUp
	case target < replicas:
		action = scaling.ActionScaleDown
	}

	confidence := 0.5
	if p.cfg.Setpoint > 0 {
		confidence = min(1, math.Abs(errv)/p.cfg.Setpoint)
	}

	p.lastTime = now
	p.lastError = errv
	p.lastOutput = output
	p.history = append(p.history, Sample{
		Timestamp:       now,
		Value:           value,
		Setpoint:        p.cfg.Setpoint,
		Error:           errv,
		PTerm:           pTerm,
		ITerm:           iTerm,
		DTerm:           dTerm,
		Output:          output,
		CurrentReplicas: replicas,
		TargetReplicas:  target,
	})
	if over := len(p.history) - historyLimit; over > 0 {
		p.history = slices.Delete(p.history, 0, over)
	}

	return scaling.Decision{
		Action:          action,
		CurrentReplicas: replicas,
		TargetReplicas:  target,
		Reason: fmt.Sprintf("pid: error=%.3f P=%.2f I=%.2f D=%.2f output=%.2f target=%d",
			errv, pTerm, iTerm, dTerm, output, target),
		Error:      errv,
		PTerm:      pTerm,
		ITerm:      iTerm,
		DTerm:      dTerm,
		Confidence: confidence,
		CreatedAt:  now,
	}
}

// Tuning holds optional runtime adjustments. Nil fields are left unchanged.
type Tuning struct {
	Kp       *float64 `json:"kp,omitempty"`
	Ki       *float64 `json:"ki,omitempty"`
	Kd       *float64 `json:"kd,omitempty"`
	Setpoint *float64 `json:"setpoint,omitempty"`
}

func (t Tuning) apply(g Gains) Gains {
	if t.Kp != nil {
		g.Kp = *t.Kp
	}
	if t.Ki != nil {
		g.Ki = *t.Ki
	}
	if t.Kd != nil {
		g.Kd = *t.Kd
	}
	return g
}

// Tune adjusts gains and setpoint. Moving the setpoint resets the integral;
// gain changes and an unchanged setpoint keep it. It panics on a negative setpoint.
func (p *PID) Tune(t Tuning) {
	p.cfg.Gains = t.apply(p.cfg.Gains)
	if t.Setpoint != nil {
		if *t.Setpoint < 0 {
			panic(fmt.Sprintf("control: negative setpoint %v", *t.Setpoint))
		}
		if *t.Setpoint != p.cfg.Setpoint {
			p.integral = 0
		}
		p.cfg.Setpoint = *t.Setpoint
	}
}

// Reset clears all accumulated state and history.
func (p *PID) Reset() {
	p.lastTime = time.Time{}
	p.lastError = 0
	p.integral = 0
	p.history = nil
}

// Integral returns the clamped accumulated error.
func (p *PID) Integral() float64 { return p.integral }

// History returns a copy of the retained samples, oldest first.
func (p *PID) History() []Sample {
	return slices.Clone(p.history)
}

// Output returns the raw output of the last completed update.
func (p *PID) Output() float64 { return p.lastOutput }
