package engine

import (
	"sort"
	"strings"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// RefPrefix marks an attribute value as a reference to another resource's
// output attribute: ref://<kind>.<name>/<attribute>
const RefPrefix = "ref://"

// Graph is the dependency graph over declared resources. Nodes are indexed
// by address; edges are derived from explicit dependsOn entries and from
// ref:// expressions in attribute values. A built Graph is read-only and
// safe for concurrent traversal.
type Graph struct {
	nodes map[string]*graphNode
	order []string // addresses in declaration order
}

type graphNode struct {
	res        *ir.Resource
	declared   int      // declaration index, used as ordering tie-break
	deps       []string // addresses this node depends on
	dependents []string // addresses depending on this node
}

// BuildGraph parses declarations into a dependency graph. It fails with
// DuplicateNameError when two declarations share kind+name and with
// UnknownReferenceError when a dependsOn entry or ref:// expression names
// a node absent from the declaration set.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode, len(resources))}

	for i, res := range resources {
		addr := res.Address()
		if _, exists := g.nodes[addr]; exists {
			return nil, &DuplicateNameError{Address: addr}
		}
		g.nodes[addr] = &graphNode{res: res, declared: i}
		g.order = append(g.order, addr)
	}

	for _, addr := range g.order {
		node := g.nodes[addr]

		for _, dep := range node.res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownReferenceError{Address: addr, Reference: dep}
			}
			g.addEdge(addr, dep)
		}

		for _, ref := range ExtractRefs(node.res.Attributes) {
			depAddr, _ := SplitRef(ref)
			if depAddr == "" {
				continue
			}
			if _, ok := g.nodes[depAddr]; !ok {
				return nil, &UnknownReferenceError{Address: addr, Reference: depAddr}
			}
			if depAddr != addr {
				g.addEdge(addr, depAddr)
			}
		}
	}

	return g, nil
}

func (g *Graph) addEdge(from, to string) {
	node := g.nodes[from]
	for _, d := range node.deps {
		if d == to {
			return
		}
	}
	node.deps = append(node.deps, to)
	g.nodes[to].dependents = append(g.nodes[to].dependents, from)
}

// Addresses returns all node addresses in declaration order.
func (g *Graph) Addresses() []string {
	return g.order
}

// Resource returns the declared resource at addr, or nil.
func (g *Graph) Resource(addr string) *ir.Resource {
	if node, ok := g.nodes[addr]; ok {
		return node.res
	}
	return nil
}

// Dependencies returns the addresses addr depends on.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.deps
	}
	return nil
}

// Dependents returns the addresses that depend on addr.
func (g *Graph) Dependents(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.dependents
	}
	return nil
}

// TopoSort returns node addresses with every dependency strictly before
// its dependents. Mutually independent nodes keep declaration order, so
// the result is deterministic for identical input. Fails with
// CyclicDependencyError when the graph is not a DAG.
func (g *Graph) TopoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.deps)
	}

	var ready []string
	for _, addr := range g.order {
		if inDegree[addr] == 0 {
			ready = append(ready, addr)
		}
	}

	var sorted []string
	for len(ready) > 0 {
		// Kahn's algorithm with the ready set kept in declaration order.
		sort.Slice(ready, func(i, j int) bool {
			return g.nodes[ready[i]].declared < g.nodes[ready[j]].declared
		})
		addr := ready[0]
		ready = ready[1:]
		sorted = append(sorted, addr)

		for _, dependent := range g.nodes[addr].dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		var members []string
		for _, addr := range g.order {
			if inDegree[addr] > 0 {
				members = append(members, addr)
			}
		}
		return nil, &CyclicDependencyError{Members: members}
	}

	return sorted, nil
}

// ExtractRefs collects every ref:// expression nested in an attribute value.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, RefPrefix) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

// SplitRef splits a ref:// expression into target address and attribute.
// ref://registry.Registry.shop/arn -> ("registry.Registry.shop", "arn")
func SplitRef(ref string) (addr, attr string) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", ""
	}
	path := ref[len(RefPrefix):]
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", ""
	}
	return path[:i], path[i+1:]
}
