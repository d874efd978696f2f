package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/provider"
	"github.com/shopforge-io/shopforge/internal/state"
	"github.com/shopforge-io/shopforge/providers/local"
)

func testRegistry(p *local.Provider) *provider.Registry {
	r := provider.NewRegistry()
	r.Register("local", func() (provider.Provider, error) { return p, nil })
	return r
}

// platformResources declares the baseline deployment: a resource group,
// a registry, a cluster and a vault, chained by references.
func platformResources() []*ir.Resource {
	return []*ir.Resource{
		{Kind: "core.ResourceGroup", Name: "shop", Provider: "local", Attributes: map[string]any{
			"environment": "production",
		}},
		{Kind: "registry.Registry", Name: "shop", Provider: "local", Attributes: map[string]any{
			"group": "ref://core.ResourceGroup.shop/name",
		}},
		{Kind: "cluster.Cluster", Name: "shop", Provider: "local", Attributes: map[string]any{
			"group":    "ref://core.ResourceGroup.shop/name",
			"registry": "ref://registry.Registry.shop/id",
		}},
		{Kind: "vault.Vault", Name: "shop", Provider: "local", Attributes: map[string]any{
			"group": "ref://core.ResourceGroup.shop/name",
		}},
	}
}

func mustGraph(t *testing.T, resources []*ir.Resource) *Graph {
	t.Helper()
	g, err := BuildGraph(resources)
	require.NoError(t, err)
	return g
}

func seedState(t *testing.T, store state.Store, resources []*ir.Resource, g *Graph) {
	t.Helper()
	ctx := context.Background()
	for _, res := range resources {
		rec := &ir.StateRecord{
			Kind:         res.Kind,
			Name:         res.Name,
			Provider:     res.Provider,
			ID:           "seeded-" + res.Name,
			Attrs:        normalizeAttrs(res.Attributes),
			Outputs:      map[string]any{"id": "seeded-" + res.Name, "name": res.Name},
			Dependencies: g.Dependencies(res.Address()),
		}
		require.NoError(t, store.Put(ctx, rec, 0))
	}
}

func TestPlan_FreshDeployment(t *testing.T) {
	resources := platformResources()
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	eng := NewEngine(testRegistry(local.New()))

	cs, err := eng.Plan(context.Background(), "production", g, store)
	require.NoError(t, err)

	assert.Equal(t, 4, cs.Summary.Create)
	assert.Equal(t, 0, cs.Summary.Update)
	assert.Equal(t, 0, cs.Summary.Delete)
	require.Len(t, cs.Changes, 4)

	var order []string
	for _, c := range cs.Changes {
		assert.Equal(t, ir.ActionCreate, c.Action)
		order = append(order, c.Address)
	}
	assert.Less(t, indexOf(order, "core.ResourceGroup.shop"), indexOf(order, "registry.Registry.shop"))
	assert.Less(t, indexOf(order, "registry.Registry.shop"), indexOf(order, "cluster.Cluster.shop"))
	assert.Less(t, indexOf(order, "core.ResourceGroup.shop"), indexOf(order, "vault.Vault.shop"))
}

func TestPlan_Idempotent(t *testing.T) {
	resources := platformResources()
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g, store)
	require.NoError(t, err)

	assert.True(t, cs.Empty())
	assert.Equal(t, 4, cs.Summary.NoOp)
	assert.Empty(t, cs.Changes)
}

func TestPlan_Deterministic(t *testing.T) {
	resources := platformResources()
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	eng := NewEngine(testRegistry(local.New()))

	first, err := eng.Plan(context.Background(), "production", g, store)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := eng.Plan(context.Background(), "production", g, store)
		require.NoError(t, err)
		require.Len(t, again.Changes, len(first.Changes))
		for j := range first.Changes {
			assert.Equal(t, first.Changes[j].Address, again.Changes[j].Address)
			assert.Equal(t, first.Changes[j].Action, again.Changes[j].Action)
		}
	}
}

func TestPlan_RemovedResourceIsDeleted(t *testing.T) {
	resources := platformResources()
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	// Re-declare without the vault.
	trimmed := resources[:3]
	g2 := mustGraph(t, trimmed)

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g2, store)
	require.NoError(t, err)

	assert.Equal(t, 1, cs.Summary.Delete)
	assert.Equal(t, 3, cs.Summary.NoOp)
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, ir.ActionDelete, cs.Changes[0].Action)
	assert.Equal(t, "vault.Vault.shop", cs.Changes[0].Address)
}

func TestPlan_DeletesOrderedDependentsFirst(t *testing.T) {
	resources := platformResources()
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	// Empty declaration: everything goes.
	empty := mustGraph(t, nil)

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", empty, store)
	require.NoError(t, err)

	require.Len(t, cs.Changes, 4)
	var order []string
	for _, c := range cs.Changes {
		require.Equal(t, ir.ActionDelete, c.Action)
		order = append(order, c.Address)
	}
	// The cluster depends on the registry, and everything depends on the
	// group: dependents are torn down first.
	assert.Less(t, indexOf(order, "cluster.Cluster.shop"), indexOf(order, "registry.Registry.shop"))
	assert.Less(t, indexOf(order, "registry.Registry.shop"), indexOf(order, "core.ResourceGroup.shop"))
	assert.Less(t, indexOf(order, "vault.Vault.shop"), indexOf(order, "core.ResourceGroup.shop"))
}

func TestPlan_AttributeChangeIsUpdate(t *testing.T) {
	resources := platformResources()
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	resources[0].Attributes["environment"] = "staging"
	g2 := mustGraph(t, resources)

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g2, store)
	require.NoError(t, err)

	assert.Equal(t, 1, cs.Summary.Update)
	require.Len(t, cs.Changes, 1)
	c := cs.Changes[0]
	assert.Equal(t, ir.ActionUpdate, c.Action)
	assert.Equal(t, "core.ResourceGroup.shop", c.Address)

	require.Contains(t, c.Diff, "environment")
	assert.Equal(t, "production", c.Diff["environment"].Before)
	assert.Equal(t, "staging", c.Diff["environment"].After)
}

func TestPlan_ReplaceOnChange(t *testing.T) {
	resources := []*ir.Resource{
		{
			Kind:            "container.Container",
			Name:            "web",
			Provider:        "local",
			ReplaceOnChange: []string{"image"},
			Attributes:      map[string]any{"image": "shop/web:v1"},
		},
	}
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	resources[0].Attributes["image"] = "shop/web:v2"
	g2 := mustGraph(t, resources)

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g2, store)
	require.NoError(t, err)

	assert.Equal(t, 1, cs.Summary.Delete)
	assert.Equal(t, 1, cs.Summary.Create)
	require.Len(t, cs.Changes, 2)
	assert.Equal(t, ir.ActionDelete, cs.Changes[0].Action)
	assert.Equal(t, ir.ActionCreate, cs.Changes[1].Action)
	assert.Equal(t, cs.Changes[0].Address, cs.Changes[1].Address)
}

func TestPlan_ReplaceDeleteWaitsForRecordedDependents(t *testing.T) {
	// The secret depends on the vault. Dropping the secret while forcing
	// the vault's replace must still tear the secret down first.
	resources := []*ir.Resource{
		{
			Kind:            "vault.Vault",
			Name:            "shop",
			Provider:        "local",
			ReplaceOnChange: []string{"region"},
			Attributes:      map[string]any{"region": "us-east-1"},
		},
		{
			Kind:       "vault.Secret",
			Name:       "db-password",
			Provider:   "local",
			Attributes: map[string]any{"vault": "ref://vault.Vault.shop/id"},
		},
	}
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	replacedVault := &ir.Resource{
		Kind:            "vault.Vault",
		Name:            "shop",
		Provider:        "local",
		ReplaceOnChange: []string{"region"},
		Attributes:      map[string]any{"region": "eu-west-1"},
	}
	g2 := mustGraph(t, []*ir.Resource{replacedVault})

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g2, store)
	require.NoError(t, err)

	assert.Equal(t, 2, cs.Summary.Delete)
	assert.Equal(t, 1, cs.Summary.Create)
	require.Len(t, cs.Changes, 3)

	var deletes []string
	var vaultDelete *ir.Change
	for _, c := range cs.Changes {
		if c.Action == ir.ActionDelete {
			deletes = append(deletes, c.Address)
			if c.Address == "vault.Vault.shop" {
				vaultDelete = c
			}
		}
	}
	require.Len(t, deletes, 2)
	assert.Less(t, indexOf(deletes, "vault.Secret.db-password"), indexOf(deletes, "vault.Vault.shop"))
	require.NotNil(t, vaultDelete)
	assert.Contains(t, vaultDelete.DependsOn, "vault.Secret.db-password")
}

func TestPlan_NonForcedChangeIsUpdateNotReplace(t *testing.T) {
	resources := []*ir.Resource{
		{
			Kind:            "container.Container",
			Name:            "web",
			Provider:        "local",
			ReplaceOnChange: []string{"image"},
			Attributes:      map[string]any{"image": "shop/web:v1", "restart": "always"},
		},
	}
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()
	seedState(t, store, resources, g)

	resources[0].Attributes["restart"] = "unless-stopped"
	g2 := mustGraph(t, resources)

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g2, store)
	require.NoError(t, err)

	assert.Equal(t, 1, cs.Summary.Update)
	assert.Equal(t, 0, cs.Summary.Delete)
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, ir.ActionUpdate, cs.Changes[0].Action)
}

func TestPlan_NumericAttrsSurviveRoundTrip(t *testing.T) {
	// YAML decodes counts as int, JSON state brings them back as float64;
	// neither must produce a spurious diff.
	resources := []*ir.Resource{
		{Kind: "workload.Service", Name: "web", Provider: "local", Attributes: map[string]any{
			"desiredCount": 3,
		}},
	}
	g := mustGraph(t, resources)
	store := state.NewMemoryStore()

	rec := &ir.StateRecord{
		Kind: "workload.Service", Name: "web", Provider: "local",
		ID:    "seeded-web",
		Attrs: map[string]any{"desiredCount": float64(3)},
	}
	require.NoError(t, store.Put(context.Background(), rec, 0))

	eng := NewEngine(testRegistry(local.New()))
	cs, err := eng.Plan(context.Background(), "production", g, store)
	require.NoError(t, err)
	assert.True(t, cs.Empty())
	assert.Equal(t, 1, cs.Summary.NoOp)
}
