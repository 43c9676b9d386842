package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
)

// AutoScalerConfig configures the combined latency/utilization scaler.
type AutoScalerConfig struct {
	TargetLatency     time.Duration
	TargetUtilization float64
	MinReplicas       int
	MaxReplicas       int
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
	Hysteresis        float64
	SampleTime        time.Duration
	AntiWindup        float64
	LatencyGains      Gains
	UtilizationGains  Gains
}

// DefaultAutoScalerConfig returns the stock tuning.
func DefaultAutoScalerConfig() AutoScalerConfig {
	return AutoScalerConfig{
		TargetLatency:     time.Second,
		TargetUtilization: 0.7,
		MinReplicas:       1,
		MaxReplicas:       20,
		ScaleUpCooldown:   60 * time.Second,
		ScaleDownCooldown: 300 * time.Second,
		Hysteresis:        0.1,
		SampleTime:        10 * time.Second,
		AntiWindup:        50,
		LatencyGains:      Gains{Kp: 2.0, Ki: 0.1, Kd: 0.5},
		UtilizationGains:  Gains{Kp: 1.0, Ki: 0.05, Kd: 0.3},
	}
}

// AutoScaler combines a latency loop and a utilization loop. Scale-up
// follows either loop, scale-down requires both. Cooldowns and a hysteresis
// band around each target suppress flapping. It is safe for concurrent use.
type AutoScaler struct {
	mu  sync.Mutex
	cfg AutoScalerConfig

	latency     *PID
	utilization *PID

	lastScaleUp   time.Time
	lastScaleDown time.Time

	now func() time.Time
}

// NewAutoScaler creates a scaler. It panics on negative targets.
func NewAutoScaler(cfg AutoScalerConfig) *AutoScaler {
	loop := func(setpoint float64, g Gains) *PID {
		return NewPID(PIDConfig{
			Setpoint:   setpoint,
			Gains:      g,
			MinOutput:  cfg.MinReplicas,
			MaxOutput:  cfg.MaxReplicas,
			SampleTime: cfg.SampleTime,
			AntiWindup: cfg.AntiWindup,
		})
	}
	return &AutoScaler{
		cfg:         cfg,
		latency:     loop(cfg.TargetLatency.Seconds(), cfg.LatencyGains),
		utilization: loop(cfg.TargetUtilization, cfg.UtilizationGains),
		now:         time.Now,
	}
}

func (a *AutoScaler) setClock(now func() time.Time) {
	a.now = now
	a.latency.now = now
	a.utilization.now = now
}

// Recommend runs both loops on the current observations.
func (a *AutoScaler) Recommend(latency time.Duration, utilization float64, replicas int) scaling.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	lat := latency.Seconds()
	targetLat := a.cfg.TargetLatency.Seconds()
	h := a.cfg.Hysteresis

	ld := a.latency.Update(lat, replicas)
	ud := a.utilization.Update(utilization, replicas)

	hold := func(reason string, confidence float64) scaling.Decision {
		return scaling.Decision{
			Action:          scaling.ActionNoChange,
			CurrentReplicas: replicas,
			TargetReplicas:  replicas,
			Reason:          reason,
			Error:           ld.Error,
			PTerm:           ld.PTerm,
			ITerm:           ld.ITerm,
			DTerm:           ld.DTerm,
			Confidence:      confidence,
			CreatedAt:       now,
		}
	}
	band := func() string {
		return fmt.Sprintf("within hysteresis band (lat=%.2fs, util=%.2f)", lat, utilization)
	}

	switch {
	case ld.Action == scaling.ActionScaleUp || ud.Action == scaling.ActionScaleUp:
		if since := now.Sub(a.lastScaleUp); !a.lastScaleUp.IsZero() && since < a.cfg.ScaleUpCooldown {
			return hold(fmt.Sprintf("scale up cooldown (%.0fs < %.0fs)", since.Seconds(), a.cfg.ScaleUpCooldown.Seconds()), 0)
		}
		latOver := lat > targetLat*(1+h)
		utilOver := utilization > a.cfg.TargetUtilization*(1+h)
		if !latOver && !utilOver {
			return hold(band(), 0.5)
		}

		a.lastScaleUp = now
		d := hold("", max(ld.Confidence, ud.Confidence))
		d.Action = scaling.ActionScaleUp
		d.TargetReplicas = min(max(ld.TargetReplicas, ud.TargetReplicas), a.cfg.MaxReplicas)
		d.Reason = fmt.Sprintf("scale up: latency=%.2fs (target=%.2fs), util=%.0f%% (target=%.0f%%)",
			lat, targetLat, utilization*100, a.cfg.TargetUtilization*100)
		return d

	case ld.Action == scaling.ActionScaleDown && ud.Action == scaling.ActionScaleDown:
		if since := now.Sub(a.lastScaleDown); !a.lastScaleDown.IsZero() && since < a.cfg.ScaleDownCooldown {
			return hold(fmt.Sprintf("scale down cooldown (%.0fs < %.0fs)", since.Seconds(), a.cfg.ScaleDownCooldown.Seconds()), 0)
		}
		latUnder := lat < targetLat*(1-h)
		utilUnder := utilization < a.cfg.TargetUtilization*(1-h)
		if !latUnder || !utilUnder {
			return hold(band(), 0.5)
		}

		a.lastScaleDown = now
		d := hold("", min(ld.Confidence, ud.Confidence))
		d.Action = scaling.ActionScaleDown
		d.TargetReplicas = max(min(ld.TargetReplicas, ud.TargetReplicas), a.cfg.MinReplicas)
		d.Reason = fmt.Sprintf("scale down: latency=%.2fs, util=%.0f%%", lat, utilization*100)
		return d
	}

	return hold(fmt.Sprintf("stable: latency=%.2fs, util=%.0f%%", lat, utilization*100), 0.8)
}

// Loop names accepted by Tune.
const (
	LoopLatency     = "latency"
	LoopUtilization = "utilization"
)

// Tune retunes the latency or utilization loop. Setpoint changes reset that
// loop's integral and update the matching hysteresis target.
func (a *AutoScaler) Tune(loop string, t Tuning) error {
	if t.Setpoint != nil && *t.Setpoint < 0 {
		return fmt.Errorf("setpoint must be >= 0: %w", domain.ErrValidation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch loop {
	case LoopLatency:
		a.latency.Tune(t)
		a.cfg.LatencyGains = t.apply(a.cfg.LatencyGains)
		if t.Setpoint != nil {
			a.cfg.TargetLatency = time.Duration(*t.Setpoint * float64(time.Second))
		}
	case LoopUtilization:
		a.utilization.Tune(t)
		a.cfg.UtilizationGains = t.apply(a.cfg.UtilizationGains)
		if t.Setpoint != nil {
			a.cfg.TargetUtilization = *t.Setpoint
		}
	default:
		return fmt.Errorf("unknown control loop %q: %w", loop, domain.ErrValidation)
	}
	return nil
}

// Reset clears both loops and the cooldown timers.
func (a *AutoScaler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency.Reset()
	a.utilization.Reset()
	a.lastScaleUp = time.Time{}
	a.lastScaleDown = time.Time{}
}

// LoopHistory returns copies of both loops' samples.
func (a *AutoScaler) LoopHistory() (latency, utilization []Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latency.History(), a.utilization.History()
}

// Config returns the current configuration.
func (a *AutoScaler) Config() AutoScalerConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}
