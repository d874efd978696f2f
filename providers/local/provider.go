// Package local implements an in-memory provider. It backs the test
// suites and offers a zero-dependency target for trying declarations
// before pointing them at real infrastructure.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/provider"
)

type resourceEntry struct {
	Kind  string
	Name  string
	Attrs map[string]any
}

type Provider struct {
	mu          sync.Mutex
	nextID      int
	resources   map[string]resourceEntry // id -> entry
	replicas    map[string]int32
	utilization map[string]float64

	// CreateHook, UpdateHook and DeleteHook let tests inject failures for
	// specific resource kinds or names. A nil hook never fails.
	CreateHook func(kind, name string) error
	UpdateHook func(kind, id string) error
	DeleteHook func(kind, id string) error
}

func New() *Provider {
	return &Provider{
		resources:   make(map[string]resourceEntry),
		replicas:    make(map[string]int32),
		utilization: make(map[string]float64),
	}
}

func (p *Provider) CreateResource(ctx context.Context, kind, name string, attrs map[string]any) (*provider.Result, error) {
	if p.CreateHook != nil {
		if err := p.CreateHook(kind, name); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := fmt.Sprintf("local-%s-%s-%d", kind, name, p.nextID)
	p.resources[id] = resourceEntry{Kind: kind, Name: name, Attrs: attrs}

	return &provider.Result{
		ID: id,
		Outputs: map[string]any{
			"id":   id,
			"name": name,
		},
	}, nil
}

func (p *Provider) UpdateResource(ctx context.Context, kind, id string, attrs map[string]any) (*provider.Result, error) {
	if p.UpdateHook != nil {
		if err := p.UpdateHook(kind, id); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.resources[id]
	if !ok {
		return nil, provider.Permanentf("update", kind, fmt.Errorf("resource %s not found", id))
	}
	entry.Attrs = attrs
	p.resources[id] = entry

	return &provider.Result{
		ID: id,
		Outputs: map[string]any{
			"id":   id,
			"name": entry.Name,
		},
	}, nil
}

func (p *Provider) DeleteResource(ctx context.Context, kind, id string) error {
	if p.DeleteHook != nil {
		if err := p.DeleteHook(kind, id); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resources, id)
	return nil
}

func (p *Provider) SetReplicaCount(ctx context.Context, ref ir.WorkloadRef, replicas int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replicas[ref.String()] = replicas
	return nil
}

func (p *Provider) ReadReplicaCount(ctx context.Context, ref ir.WorkloadRef) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.replicas[ref.String()]
	if !ok {
		return 0, provider.Permanentf("metrics", "workload", fmt.Errorf("workload %s not found", ref))
	}
	return n, nil
}

func (p *Provider) ReadUtilization(ctx context.Context, ref ir.WorkloadRef, metric string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.utilization[ref.String()+"/"+metric]
	if !ok {
		return 0, provider.Transientf("metrics", metric, fmt.Errorf("no observation for %s", ref))
	}
	return v, nil
}

// SetUtilization seeds a metric observation. Test helper.
func (p *Provider) SetUtilization(ref ir.WorkloadRef, metric string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utilization[ref.String()+"/"+metric] = value
}

// SeedWorkload registers a workload with an initial replica count. Test helper.
func (p *Provider) SeedWorkload(ref ir.WorkloadRef, replicas int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replicas[ref.String()] = replicas
}

// Len reports how many resources currently exist. Test helper.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

// Has reports whether a resource with the given id exists. Test helper.
func (p *Provider) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.resources[id]
	return ok
}
