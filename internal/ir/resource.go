package ir

import "fmt"

// Resource is a single declared resource node.
type Resource struct {
	Kind            string         `yaml:"kind"` // e.g. "registry.Registry"
	Name            string         `yaml:"name"`
	Provider        string         `yaml:"provider"`
	DependsOn       []string       `yaml:"dependsOn"`
	ReplaceOnChange []string       `yaml:"replaceOnChange"`
	Attributes      map[string]any `yaml:"attributes"`
}

// Address returns the logical address of a resource (kind.name).
func (r *Resource) Address() string {
	return fmt.Sprintf("%s.%s", r.Kind, r.Name)
}

// WorkloadRef identifies a scalable workload on a provider.
type WorkloadRef struct {
	Provider string `yaml:"provider"`
	Cluster  string `yaml:"cluster"`
	Service  string `yaml:"service"`
}

func (w WorkloadRef) String() string {
	return fmt.Sprintf("%s/%s", w.Cluster, w.Service)
}
