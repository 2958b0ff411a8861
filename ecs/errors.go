package ecs

import (
	"fmt"
	"reflect"
	"strings"
)

// AliasingError reports a query shape requesting the same component with
// overlapping mutable and immutable access. It is raised as a panic at query
// construction time: allowing the shape would break the soundness contract
// the scheduler depends on.
type AliasingError struct {
	Shape reflect.Type
	Type  reflect.Type
}

func (e *AliasingError) Error() string {
	return fmt.Sprintf("ecs: query shape %s requests %s more than once with mutable access", e.Shape, e.Type)
}

// AmbiguityError reports two systems whose access sets conflict with no
// ordering constraint between them, under the strict ambiguity policy.
type AmbiguityError struct {
	A, B       string
	Components []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ecs: systems %s and %s conflict on [%s] with no declared order",
		e.A, e.B, strings.Join(e.Components, ", "))
}

// CycleError reports ordering constraints that form a cycle.
type CycleError struct {
	Systems []string
}

func (e *CycleError) Error() string {
	return "ecs: ordering constraints form a cycle among: " + strings.Join(e.Systems, ", ")
}

// UnknownLabelError reports a Before/After/set constraint naming no
// registered system or set.
type UnknownLabelError struct {
	Label string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("ecs: ordering constraint references unknown system or set %q", e.Label)
}
