package engine

import (
	"fmt"
	"strings"
)

// UnknownReferenceError is returned when a declaration references a node
// absent from the declaration set.
type UnknownReferenceError struct {
	Address   string // referencing node
	Reference string // missing target address
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("resource %s references unknown resource %s", e.Address, e.Reference)
}

// DuplicateNameError is returned when two declarations share kind and name.
type DuplicateNameError struct {
	Address string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate resource declaration: %s", e.Address)
}

// CyclicDependencyError is returned when the declared graph is not a DAG.
// Members lists the addresses participating in at least one cycle.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving: %s", strings.Join(e.Members, ", "))
}
