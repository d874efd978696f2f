package provider

import (
	"context"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// Result is what a provider hands back after realizing a resource.
type Result struct {
	ID      string         // provider-assigned identity
	Outputs map[string]any // provider-computed attributes (ARNs, endpoints, ...)
}

// Provider is the capability the engine uses to mutate real infrastructure.
// Implementations live under providers/ and are registered by name.
type Provider interface {
	// CreateResource realizes a declared resource and returns its identity.
	CreateResource(ctx context.Context, kind, name string, attrs map[string]any) (*Result, error)

	// UpdateResource changes an existing resource in place.
	UpdateResource(ctx context.Context, kind, id string, attrs map[string]any) (*Result, error)

	// DeleteResource removes an existing resource.
	DeleteResource(ctx context.Context, kind, id string) error

	Scaler
	MetricsSource
}

// Scaler issues replica-count commands for a workload.
type Scaler interface {
	SetReplicaCount(ctx context.Context, ref ir.WorkloadRef, replicas int32) error
}

// MetricsSource reads a workload's current size and load.
type MetricsSource interface {
	ReadReplicaCount(ctx context.Context, ref ir.WorkloadRef) (int32, error)
	ReadUtilization(ctx context.Context, ref ir.WorkloadRef, metric string) (float64, error)
}
