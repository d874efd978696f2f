package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge-io/shopforge/internal/ir"
)

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}

func TestBuildGraph_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "core.ResourceGroup", Name: "a", Provider: "local"},
		{Kind: "core.ResourceGroup", Name: "b", Provider: "local"},
		{Kind: "core.ResourceGroup", Name: "c", Provider: "local"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Len(t, order, 3)
}

func TestBuildGraph_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "cluster.Cluster", Name: "shop", Provider: "local", DependsOn: []string{"core.ResourceGroup.shop"}},
		{Kind: "core.ResourceGroup", Name: "shop", Provider: "local"},
		{Kind: "vault.Vault", Name: "shop", Provider: "local", DependsOn: []string{"cluster.Cluster.shop"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order, err := g.TopoSort()
	require.NoError(t, err)
	require.Len(t, order, 3)

	posGroup := indexOf(order, "core.ResourceGroup.shop")
	posCluster := indexOf(order, "cluster.Cluster.shop")
	posVault := indexOf(order, "vault.Vault.shop")

	assert.Less(t, posGroup, posCluster, "group should come before cluster")
	assert.Less(t, posCluster, posVault, "cluster should come before vault")
}

func TestBuildGraph_ImplicitRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Kind:     "registry.Registry",
			Name:     "shop",
			Provider: "local",
			Attributes: map[string]any{
				"group": "ref://core.ResourceGroup.shop/name",
			},
		},
		{Kind: "core.ResourceGroup", Name: "shop", Provider: "local"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order, err := g.TopoSort()
	require.NoError(t, err)
	require.Len(t, order, 2)

	posGroup := indexOf(order, "core.ResourceGroup.shop")
	posRegistry := indexOf(order, "registry.Registry.shop")
	assert.Less(t, posGroup, posRegistry, "group should be created before the registry referencing it")
}

func TestBuildGraph_NestedRef(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "vault.Vault", Name: "shop", Provider: "local"},
		{
			Kind:     "cluster.Cluster",
			Name:     "shop",
			Provider: "local",
			Attributes: map[string]any{
				"encryption": map[string]any{
					"keys": []any{"ref://vault.Vault.shop/keyArn"},
				},
			},
		},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	deps := g.Dependencies("cluster.Cluster.shop")
	assert.Equal(t, []string{"vault.Vault.shop"}, deps)
}

func TestBuildGraph_DuplicateName(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "core.ResourceGroup", Name: "shop", Provider: "local"},
		{Kind: "core.ResourceGroup", Name: "shop", Provider: "local"},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)

	var dup *DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "core.ResourceGroup.shop", dup.Address)
}

func TestBuildGraph_UnknownDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "cluster.Cluster", Name: "shop", Provider: "local", DependsOn: []string{"core.ResourceGroup.missing"}},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)

	var unknown *UnknownReferenceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "cluster.Cluster.shop", unknown.Address)
	assert.Equal(t, "core.ResourceGroup.missing", unknown.Reference)
}

func TestBuildGraph_UnknownRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Kind:     "registry.Registry",
			Name:     "shop",
			Provider: "local",
			Attributes: map[string]any{
				"group": "ref://core.ResourceGroup.missing/name",
			},
		},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)

	var unknown *UnknownReferenceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "core.ResourceGroup.missing", unknown.Reference)
}

func TestTopoSort_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "core.ResourceGroup", Name: "a", Provider: "local", DependsOn: []string{"core.ResourceGroup.b"}},
		{Kind: "core.ResourceGroup", Name: "b", Provider: "local", DependsOn: []string{"core.ResourceGroup.a"}},
		{Kind: "core.ResourceGroup", Name: "c", Provider: "local"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	_, err = g.TopoSort()
	require.Error(t, err)

	var cyclic *CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	assert.ElementsMatch(t, []string{"core.ResourceGroup.a", "core.ResourceGroup.b"}, cyclic.Members)
}

func TestTopoSort_Deterministic(t *testing.T) {
	resources := []*ir.Resource{
		{Kind: "core.ResourceGroup", Name: "z", Provider: "local"},
		{Kind: "core.ResourceGroup", Name: "a", Provider: "local"},
		{Kind: "core.ResourceGroup", Name: "m", Provider: "local"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	first, err := g.TopoSort()
	require.NoError(t, err)

	// Independent nodes keep declaration order, on every run.
	assert.Equal(t, []string{"core.ResourceGroup.z", "core.ResourceGroup.a", "core.ResourceGroup.m"}, first)
	for i := 0; i < 20; i++ {
		again, err := g.TopoSort()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSplitRef(t *testing.T) {
	addr, attr := SplitRef("ref://registry.Registry.shop/arn")
	assert.Equal(t, "registry.Registry.shop", addr)
	assert.Equal(t, "arn", attr)

	addr, attr = SplitRef("ref://noslash")
	assert.Empty(t, addr)
	assert.Empty(t, attr)

	addr, _ = SplitRef("not-a-ref")
	assert.Empty(t, addr)
}
