package autoscale

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/providers/local"
)

func checkoutRef() ir.WorkloadRef {
	return ir.WorkloadRef{Provider: "local", Cluster: "shop", Service: "checkout"}
}

func checkoutPolicy() ir.ScalingPolicy {
	return ir.ScalingPolicy{
		Workload:            checkoutRef(),
		Metric:              "cpu",
		TargetUtilization:   70,
		MinReplicas:         2,
		MaxReplicas:         10,
		StabilizationWindow: 3 * time.Minute,
	}
}

func TestDesiredReplicas(t *testing.T) {
	policy := checkoutPolicy()

	// ceil(2 * 140 / 70) = 4
	assert.Equal(t, int32(4), DesiredReplicas(&policy, 2, 140))
	// At target: no change.
	assert.Equal(t, int32(4), DesiredReplicas(&policy, 4, 70))
	// Low load scales down, clamped at min.
	assert.Equal(t, int32(2), DesiredReplicas(&policy, 4, 10))
	// Spike clamps at max: ceil(4 * 700 / 70) = 40 -> 10.
	assert.Equal(t, int32(10), DesiredReplicas(&policy, 4, 700))
	// Zero utilization still keeps the minimum.
	assert.Equal(t, int32(2), DesiredReplicas(&policy, 4, 0))
}

func TestEvaluate_ScalesUp(t *testing.T) {
	prov := local.New()
	prov.SeedWorkload(checkoutRef(), 2)
	prov.SetUtilization(checkoutRef(), "cpu", 140)

	ctrl := NewController(checkoutPolicy(), prov, prov)

	decision, err := ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, int32(2), decision.CurrentReplicas)
	assert.Equal(t, int32(4), decision.DesiredReplicas)
	assert.False(t, decision.Suppressed)

	// The scale command reached the provider.
	n, err := prov.ReadReplicaCount(context.Background(), checkoutRef())
	require.NoError(t, err)
	assert.Equal(t, int32(4), n)
	assert.Equal(t, PhaseIdle, ctrl.Phase())
}

func TestEvaluate_AtTargetIsIdle(t *testing.T) {
	prov := local.New()
	prov.SeedWorkload(checkoutRef(), 4)
	prov.SetUtilization(checkoutRef(), "cpu", 70)

	ctrl := NewController(checkoutPolicy(), prov, prov)

	decision, err := ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, decision.CurrentReplicas, decision.DesiredReplicas)
	assert.Equal(t, PhaseIdle, ctrl.Phase())

	n, _ := prov.ReadReplicaCount(context.Background(), checkoutRef())
	assert.Equal(t, int32(4), n)
}

func TestEvaluate_StabilizationWindowSuppresses(t *testing.T) {
	prov := local.New()
	prov.SeedWorkload(checkoutRef(), 2)
	prov.SetUtilization(checkoutRef(), "cpu", 140)

	ctrl := NewController(checkoutPolicy(), prov, prov)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return base }

	// First spike scales.
	decision, err := ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	require.False(t, decision.Suppressed)

	// One minute later the next spike is inside the window.
	ctrl.now = func() time.Time { return base.Add(time.Minute) }
	prov.SetUtilization(checkoutRef(), "cpu", 200)

	decision, err = ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.True(t, decision.Suppressed)
	assert.Equal(t, PhaseCoolingDown, ctrl.Phase())

	// Replica count is untouched by the suppressed decision.
	n, _ := prov.ReadReplicaCount(context.Background(), checkoutRef())
	assert.Equal(t, int32(4), n)

	// Past the window, scaling resumes.
	ctrl.now = func() time.Time { return base.Add(4 * time.Minute) }
	decision, err = ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	assert.False(t, decision.Suppressed)

	n, _ = prov.ReadReplicaCount(context.Background(), checkoutRef())
	assert.Greater(t, n, int32(4))
}

func TestEvaluate_MetricFailureSkipsCycle(t *testing.T) {
	prov := local.New()
	prov.SeedWorkload(checkoutRef(), 2)
	// No utilization seeded: the read fails.

	ctrl := NewController(checkoutPolicy(), prov, prov)

	decision, err := ctrl.Evaluate(context.Background())
	require.Error(t, err)
	assert.Nil(t, decision)
	assert.Equal(t, PhaseIdle, ctrl.Phase())

	// No scale action was taken on the missed observation.
	n, _ := prov.ReadReplicaCount(context.Background(), checkoutRef())
	assert.Equal(t, int32(2), n)
	assert.Empty(t, ctrl.Decisions())
}

type failingScaler struct{ err error }

func (f failingScaler) SetReplicaCount(ctx context.Context, ref ir.WorkloadRef, replicas int32) error {
	return f.err
}

func TestEvaluate_FailedScaleIsRecorded(t *testing.T) {
	prov := local.New()
	prov.SeedWorkload(checkoutRef(), 2)
	prov.SetUtilization(checkoutRef(), "cpu", 140)

	ctrl := NewController(checkoutPolicy(), prov, failingScaler{err: assert.AnError})

	decision, err := ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, PhaseIdle, ctrl.Phase())

	// The failed attempt lands in the decision log with its error.
	decisions := ctrl.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, int32(4), decisions[0].DesiredReplicas)
	assert.Equal(t, assert.AnError.Error(), decisions[0].Error)

	// No local retry: the replica count is untouched until the next cycle.
	n, _ := prov.ReadReplicaCount(context.Background(), checkoutRef())
	assert.Equal(t, int32(2), n)
}

func TestEvaluate_UnknownWorkload(t *testing.T) {
	prov := local.New()
	ctrl := NewController(checkoutPolicy(), prov, prov)

	decision, err := ctrl.Evaluate(context.Background())
	require.Error(t, err)
	assert.Nil(t, decision)
}

func TestRun_StopsOnCancel(t *testing.T) {
	prov := local.New()
	prov.SeedWorkload(checkoutRef(), 2)
	prov.SetUtilization(checkoutRef(), "cpu", 70)

	policy := checkoutPolicy()
	policy.Interval = 10 * time.Millisecond
	ctrl := NewController(policy, prov, prov)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("controller did not stop after cancellation")
	}
}
