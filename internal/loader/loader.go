package loader

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// Deployment is a loaded declaration file: one scope's resources plus the
// scaling policies for its workloads.
type Deployment struct {
	Scope       string
	Provider    string // default provider for declarations without one
	Resources   []*ir.Resource
	Autoscalers []*ir.ScalingPolicy
}

type deploymentDoc struct {
	Scope       string         `yaml:"scope"`
	Provider    string         `yaml:"provider"`
	Resources   []*ir.Resource `yaml:"resources"`
	Autoscalers []policyDoc    `yaml:"autoscalers"`
}

type policyDoc struct {
	Workload struct {
		Provider string `yaml:"provider"`
		Cluster  string `yaml:"cluster"`
		Service  string `yaml:"service"`
	} `yaml:"workload"`
	Metric              string  `yaml:"metric"`
	TargetUtilization   float64 `yaml:"targetUtilization"`
	MinReplicas         int32   `yaml:"minReplicas"`
	MaxReplicas         int32   `yaml:"maxReplicas"`
	StabilizationWindow string  `yaml:"stabilizationWindow"`
	Interval            string  `yaml:"interval"`
}

// Load reads and validates a deployment declaration file.
func Load(path string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a deployment declaration document.
func Parse(raw []byte) (*Deployment, error) {
	var doc deploymentDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse declaration: %w", err)
	}

	if doc.Scope == "" {
		return nil, fmt.Errorf("declaration is missing a scope")
	}

	d := &Deployment{
		Scope:     doc.Scope,
		Provider:  doc.Provider,
		Resources: doc.Resources,
	}

	for i, res := range d.Resources {
		if res.Kind == "" || res.Name == "" {
			return nil, fmt.Errorf("resource %d is missing kind or name", i)
		}
		if res.Provider == "" {
			res.Provider = doc.Provider
		}
		if res.Provider == "" {
			return nil, fmt.Errorf("resource %s has no provider and no default is set", res.Address())
		}
	}

	for i, p := range doc.Autoscalers {
		policy, err := p.toPolicy(doc.Provider)
		if err != nil {
			return nil, fmt.Errorf("autoscaler %d: %w", i, err)
		}
		d.Autoscalers = append(d.Autoscalers, policy)
	}

	return d, nil
}

func (p policyDoc) toPolicy(defaultProvider string) (*ir.ScalingPolicy, error) {
	if p.Workload.Service == "" {
		return nil, fmt.Errorf("workload service is required")
	}
	provider := p.Workload.Provider
	if provider == "" {
		provider = defaultProvider
	}
	if provider == "" {
		return nil, fmt.Errorf("workload has no provider and no default is set")
	}
	if p.Metric == "" {
		return nil, fmt.Errorf("metric is required")
	}
	if p.TargetUtilization <= 0 {
		return nil, fmt.Errorf("targetUtilization must be positive, got %v", p.TargetUtilization)
	}
	if p.MinReplicas < 1 {
		return nil, fmt.Errorf("minReplicas must be at least 1, got %d", p.MinReplicas)
	}
	if p.MaxReplicas < p.MinReplicas {
		return nil, fmt.Errorf("maxReplicas (%d) must be >= minReplicas (%d)", p.MaxReplicas, p.MinReplicas)
	}

	window, err := parseDuration(p.StabilizationWindow, 0)
	if err != nil {
		return nil, fmt.Errorf("stabilizationWindow: %w", err)
	}
	interval, err := parseDuration(p.Interval, 0)
	if err != nil {
		return nil, fmt.Errorf("interval: %w", err)
	}

	return &ir.ScalingPolicy{
		Workload: ir.WorkloadRef{
			Provider: provider,
			Cluster:  p.Workload.Cluster,
			Service:  p.Workload.Service,
		},
		Metric:              p.Metric,
		TargetUtilization:   p.TargetUtilization,
		MinReplicas:         p.MinReplicas,
		MaxReplicas:         p.MaxReplicas,
		StabilizationWindow: window,
		Interval:            interval,
	}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %q", s)
	}
	return d, nil
}
