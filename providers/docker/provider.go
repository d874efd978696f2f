// Package docker implements a local provider on top of the Docker
// daemon. It is the development stand-in for a managed cluster:
// networks, volumes and containers map onto daemon objects, and
// workloads scale by running replica containers.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/provider"
)

const (
	KindNetwork   = "container.Network"
	KindVolume    = "container.Volume"
	KindContainer = "container.Container"

	labelWorkload = "shopforge.workload"
	labelReplica  = "shopforge.replica"
	labelName     = "shopforge.name"
)

type Provider struct {
	mu     sync.Mutex
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return provider.Transientf("connect", "docker", err)
	}
	p.client = cli
	return nil
}

func (p *Provider) CreateResource(ctx context.Context, kind, name string, attrs map[string]any) (*provider.Result, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch kind {
	case KindNetwork:
		return p.createNetwork(ctx, name, attrs)
	case KindVolume:
		return p.createVolume(ctx, name, attrs)
	case KindContainer:
		return p.createContainer(ctx, name, attrs)
	}
	return nil, provider.Permanentf("create", kind, fmt.Errorf("unsupported resource kind %q", kind))
}

func (p *Provider) UpdateResource(ctx context.Context, kind, id string, attrs map[string]any) (*provider.Result, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch kind {
	case KindNetwork, KindVolume:
		// Networks and volumes have no mutable attributes; the engine
		// replaces them when anything meaningful changes.
		return &provider.Result{ID: id, Outputs: map[string]any{"id": id}}, nil
	case KindContainer:
		return p.updateContainer(ctx, id, attrs)
	}
	return nil, provider.Permanentf("update", kind, fmt.Errorf("unsupported resource kind %q", kind))
}

func (p *Provider) DeleteResource(ctx context.Context, kind, id string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	switch kind {
	case KindNetwork:
		if err := p.client.NetworkRemove(ctx, id); err != nil && !client.IsErrNotFound(err) {
			return provider.Transientf("delete", kind, err)
		}
		return nil
	case KindVolume:
		if err := p.client.VolumeRemove(ctx, id, true); err != nil && !client.IsErrNotFound(err) {
			return provider.Transientf("delete", kind, err)
		}
		return nil
	case KindContainer:
		return p.removeContainer(ctx, id)
	}
	return provider.Permanentf("delete", kind, fmt.Errorf("unsupported resource kind %q", kind))
}

func (p *Provider) createNetwork(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	driver := strAttr(attrs, "driver")
	if driver == "" {
		driver = "bridge"
	}

	resp, err := p.client.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:   driver,
		Internal: boolAttr(attrs, "internal"),
		Labels:   map[string]string{labelName: name},
	})
	if err != nil {
		return nil, provider.Transientf("create", KindNetwork, err)
	}

	return &provider.Result{
		ID:      resp.ID,
		Outputs: map[string]any{"id": resp.ID, "name": name, "driver": driver},
	}, nil
}

func (p *Provider) createVolume(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: strAttr(attrs, "driver"),
		Labels: map[string]string{labelName: name},
	})
	if err != nil {
		return nil, provider.Transientf("create", KindVolume, err)
	}

	return &provider.Result{
		ID:      vol.Name,
		Outputs: map[string]any{"name": vol.Name, "mountpoint": vol.Mountpoint},
	}, nil
}

func (p *Provider) createContainer(ctx context.Context, name string, attrs map[string]any) (*provider.Result, error) {
	id, err := p.runContainer(ctx, name, attrs, map[string]string{labelName: name})
	if err != nil {
		return nil, err
	}
	return &provider.Result{
		ID:      id,
		Outputs: map[string]any{"id": id, "name": name},
	}, nil
}

// runContainer pulls the image, creates the container and starts it.
func (p *Provider) runContainer(ctx context.Context, name string, attrs map[string]any, labels map[string]string) (string, error) {
	img := strAttr(attrs, "image")
	if img == "" {
		return "", provider.Permanentf("create", KindContainer, fmt.Errorf("container %s requires an image attribute", name))
	}

	reader, err := p.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return "", provider.Transientf("create", KindContainer, fmt.Errorf("failed to pull image %s: %w", img, err))
	}
	// Drain output to prevent blocking
	io.Copy(os.Stdout, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	exposed := nat.PortSet{}
	for hostPort, containerPort := range portAttr(attrs, "ports") {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[cp] = struct{}{}
		portBindings[cp] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        strSliceAttr(attrs, "volumes"),
	}
	if networks := strSliceAttr(attrs, "networks"); len(networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(networks[0])
	}
	if restart := strAttr(attrs, "restart"); restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(restart),
		}
	}

	if workload := strAttr(attrs, "workload"); workload != "" {
		labels[labelWorkload] = workload
	}

	config := &container.Config{
		Image:        img,
		Cmd:          strSliceAttr(attrs, "command"),
		Env:          envList(tagAttr(attrs, "env")),
		Labels:       labels,
		ExposedPorts: exposed,
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, name)
	if err != nil {
		return "", provider.Transientf("create", KindContainer, fmt.Errorf("failed to create container: %w", err))
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", provider.Transientf("create", KindContainer, fmt.Errorf("failed to start container: %w", err))
	}
	return resp.ID, nil
}

// updateContainer recreates the container under its existing name. The
// daemon has no in-place mutation for most container settings.
func (p *Provider) updateContainer(ctx context.Context, id string, attrs map[string]any) (*provider.Result, error) {
	inspect, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, provider.Permanentf("update", KindContainer, fmt.Errorf("failed to inspect container: %w", err))
	}
	name := strings.TrimPrefix(inspect.Name, "/")

	if err := p.removeContainer(ctx, id); err != nil {
		return nil, err
	}

	newID, err := p.runContainer(ctx, name, attrs, map[string]string{labelName: name})
	if err != nil {
		return nil, err
	}
	return &provider.Result{
		ID:      newID,
		Outputs: map[string]any{"id": newID, "name": name},
	}, nil
}

func (p *Provider) removeContainer(ctx context.Context, id string) error {
	timeout := 10 // seconds
	_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return provider.Transientf("delete", KindContainer, fmt.Errorf("failed to remove container: %w", err))
		}
	}
	return nil
}

// workloadContainers lists the replica containers of a workload,
// running or not.
func (p *Provider) workloadContainers(ctx context.Context, ref ir.WorkloadRef) ([]types.Container, error) {
	f := filters.NewArgs(filters.Arg("label", labelWorkload+"="+ref.String()))
	list, err := p.client.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, provider.Transientf("metrics", "workload", err)
	}
	return list, nil
}

func (p *Provider) SetReplicaCount(ctx context.Context, ref ir.WorkloadRef, replicas int32) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	existing, err := p.workloadContainers(ctx, ref)
	if err != nil {
		return err
	}
	current := int32(len(existing))

	switch {
	case current == replicas:
		return nil
	case current > replicas:
		for _, c := range existing[replicas:] {
			if err := p.removeContainer(ctx, c.ID); err != nil {
				return err
			}
		}
		return nil
	}

	if len(existing) == 0 {
		return provider.Permanentf("scale", "workload", fmt.Errorf("workload %s has no replica to clone", ref))
	}

	// Clone the first replica's configuration for the new ones.
	template, err := p.client.ContainerInspect(ctx, existing[0].ID)
	if err != nil {
		return provider.Transientf("scale", "workload", err)
	}
	base := strings.TrimPrefix(template.Name, "/")
	base = strings.TrimRight(base, "0123456789-")

	for n := current; n < replicas; n++ {
		name := fmt.Sprintf("%s-%d", base, n)
		labels := map[string]string{
			labelWorkload: ref.String(),
			labelReplica:  fmt.Sprintf("%d", n),
		}
		for k, v := range template.Config.Labels {
			if _, ok := labels[k]; !ok {
				labels[k] = v
			}
		}
		config := *template.Config
		config.Labels = labels
		// Host ports cannot be shared between replicas.
		hostConfig := *template.HostConfig
		hostConfig.PortBindings = nil

		resp, err := p.client.ContainerCreate(ctx, &config, &hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, name)
		if err != nil {
			return provider.Transientf("scale", "workload", err)
		}
		if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			return provider.Transientf("scale", "workload", err)
		}
	}
	return nil
}

func (p *Provider) ReadReplicaCount(ctx context.Context, ref ir.WorkloadRef) (int32, error) {
	if err := p.ensureClient(); err != nil {
		return 0, err
	}
	list, err := p.workloadContainers(ctx, ref)
	if err != nil {
		return 0, err
	}
	return int32(len(list)), nil
}

// ReadUtilization averages CPU usage across the workload's replicas as
// a percentage of allotted CPU time.
func (p *Provider) ReadUtilization(ctx context.Context, ref ir.WorkloadRef, metric string) (float64, error) {
	if err := p.ensureClient(); err != nil {
		return 0, err
	}

	list, err := p.workloadContainers(ctx, ref)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, provider.Transientf("metrics", metric, fmt.Errorf("workload %s has no replicas", ref))
	}

	var total float64
	var sampled int
	for _, c := range list {
		stats, err := p.client.ContainerStats(ctx, c.ID, false)
		if err != nil {
			continue
		}
		var s container.StatsResponse
		decodeErr := json.NewDecoder(stats.Body).Decode(&s)
		stats.Body.Close()
		if decodeErr != nil {
			continue
		}
		total += cpuPercent(&s)
		sampled++
	}
	if sampled == 0 {
		return 0, provider.Transientf("metrics", metric, fmt.Errorf("no stats for workload %s", ref))
	}
	return total / float64(sampled), nil
}

func cpuPercent(s *container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100.0
}

func strAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func boolAttr(attrs map[string]any, key string) bool {
	if v, ok := attrs[key].(bool); ok {
		return v
	}
	return false
}

func strSliceAttr(attrs map[string]any, key string) []string {
	raw, ok := attrs[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tagAttr(attrs map[string]any, key string) map[string]string {
	raw, ok := attrs[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// portAttr reads a hostPort -> containerPort map.
func portAttr(attrs map[string]any, key string) map[string]int {
	raw, ok := attrs[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		if n, ok := v.(float64); ok {
			out[k] = int(n)
		}
	}
	return out
}

func envList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
