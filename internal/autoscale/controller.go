package autoscale

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/logging"
	"github.com/shopforge-io/shopforge/internal/provider"
)

// DefaultInterval is the evaluation interval when the policy leaves it unset.
const DefaultInterval = 30 * time.Second

// Phase is the controller's position in its evaluation cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseEvaluating  Phase = "evaluating"
	PhaseCoolingDown Phase = "cooling-down"
)

// Controller reconciles one workload's replica count against a
// target-utilization policy. Controllers for different workloads are fully
// independent and share no state.
type Controller struct {
	policy  ir.ScalingPolicy
	metrics provider.MetricsSource
	scaler  provider.Scaler

	phase     Phase
	lastScale time.Time
	decisions []ir.ScalingDecision

	now func() time.Time // test hook
}

func NewController(policy ir.ScalingPolicy, metrics provider.MetricsSource, scaler provider.Scaler) *Controller {
	return &Controller{
		policy:  policy,
		metrics: metrics,
		scaler:  scaler,
		phase:   PhaseIdle,
		now:     time.Now,
	}
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// Decisions returns every decision taken so far, newest last.
func (c *Controller) Decisions() []ir.ScalingDecision {
	return c.decisions
}

// Run evaluates the policy on its interval until ctx is cancelled.
// Evaluation failures are logged and skipped, never fatal: a missed
// observation must not produce a scale action, and a failed scale command
// is simply retried on the next cycle.
func (c *Controller) Run(ctx context.Context) error {
	interval := c.policy.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	log := logging.With("workload", c.policy.Workload.String())
	log.Info("autoscaler started",
		"metric", c.policy.Metric,
		"target", c.policy.TargetUtilization,
		"min", c.policy.MinReplicas,
		"max", c.policy.MaxReplicas,
		"interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("autoscaler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Evaluate(ctx); err != nil {
				log.Warn("evaluation cycle skipped", "error", err)
			}
		}
	}
}

// Evaluate runs a single reconciliation cycle: observe, decide, and (when
// allowed) act. The returned decision is nil when the cycle was skipped
// because the metric could not be read.
func (c *Controller) Evaluate(ctx context.Context) (*ir.ScalingDecision, error) {
	c.phase = PhaseEvaluating

	ref := c.policy.Workload
	log := logging.With("workload", ref.String())

	current, err := c.metrics.ReadReplicaCount(ctx, ref)
	if err != nil {
		c.phase = PhaseIdle
		return nil, fmt.Errorf("failed to read replica count: %w", err)
	}
	utilization, err := c.metrics.ReadUtilization(ctx, ref, c.policy.Metric)
	if err != nil {
		c.phase = PhaseIdle
		return nil, fmt.Errorf("failed to read %s utilization: %w", c.policy.Metric, err)
	}

	decision := ir.ScalingDecision{
		Workload:        ref,
		Metric:          c.policy.Metric,
		Utilization:     utilization,
		CurrentReplicas: current,
		DesiredReplicas: DesiredReplicas(&c.policy, current, utilization),
		At:              c.now(),
	}

	if decision.DesiredReplicas == current {
		c.phase = PhaseIdle
		c.record(decision)
		return &decision, nil
	}

	if c.withinStabilizationWindow(decision.At) {
		decision.Suppressed = true
		c.phase = PhaseCoolingDown
		c.record(decision)
		log.Debug("scale suppressed by stabilization window",
			"desired", decision.DesiredReplicas, "current", current)
		return &decision, nil
	}

	if err := c.scaler.SetReplicaCount(ctx, ref, decision.DesiredReplicas); err != nil {
		// No local retry loop: the next cycle re-evaluates from fresh
		// observations instead of compounding a stale decision. The
		// attempt still goes into the decision log.
		decision.Error = err.Error()
		c.phase = PhaseIdle
		c.record(decision)
		log.Warn("scale command failed", "desired", decision.DesiredReplicas, "error", err)
		return &decision, nil
	}

	c.lastScale = decision.At
	c.phase = PhaseIdle
	c.record(decision)
	log.Info("scaled workload",
		"from", current,
		"to", decision.DesiredReplicas,
		"utilization", utilization,
		"target", c.policy.TargetUtilization)
	return &decision, nil
}

func (c *Controller) withinStabilizationWindow(at time.Time) bool {
	if c.lastScale.IsZero() || c.policy.StabilizationWindow <= 0 {
		return false
	}
	return at.Sub(c.lastScale) < c.policy.StabilizationWindow
}

func (c *Controller) record(d ir.ScalingDecision) {
	c.decisions = append(c.decisions, d)
}

// DesiredReplicas computes ceil(current * utilization / target), clamped
// to the policy bounds.
func DesiredReplicas(p *ir.ScalingPolicy, current int32, utilization float64) int32 {
	if p.TargetUtilization <= 0 {
		return p.Clamp(current)
	}
	raw := math.Ceil(float64(current) * utilization / p.TargetUtilization)
	if raw > math.MaxInt32 {
		return p.MaxReplicas
	}
	return p.Clamp(int32(raw))
}
