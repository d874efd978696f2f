package ir

import "time"

// ScalingPolicy is the declared target-utilization rule for one workload.
type ScalingPolicy struct {
	Workload            WorkloadRef
	Metric              string // e.g. "cpu"
	TargetUtilization   float64
	MinReplicas         int32
	MaxReplicas         int32
	StabilizationWindow time.Duration
	Interval            time.Duration
}

// Clamp bounds a replica count to [MinReplicas, MaxReplicas].
func (p *ScalingPolicy) Clamp(n int32) int32 {
	if n < p.MinReplicas {
		return p.MinReplicas
	}
	if n > p.MaxReplicas {
		return p.MaxReplicas
	}
	return n
}

// ScalingDecision is the outcome of one autoscaler evaluation. It is
// ephemeral: applied or discarded within the cycle that produced it.
type ScalingDecision struct {
	Workload        WorkloadRef
	Metric          string
	Utilization     float64
	CurrentReplicas int32
	DesiredReplicas int32
	Suppressed      bool   // stabilization window blocked the change
	Error           string // scale command failure, if any
	At              time.Time
}
