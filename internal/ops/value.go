// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

// State tags an option value.
type State uint8

const (
	// Unset means the layer expresses no opinion. After resolution it
	// means "leave this axis unchanged".
	Unset State = iota
	// Inherit is an explicit deferral to the layer below. It never
	// survives Settle.
	Inherit
	// Set carries a concrete value.
	Set
)

func (s State) String() string {
	switch s {
	case Inherit:
		return "inherit"
	case Set:
		return "set"
	default:
		return "unset"
	}
}

// Value is a tagged option value.
type Value[T any] struct {
	state State
	v     T
}

// Of returns a Set value.
func Of[T any](v T) Value[T] {
	return Value[T]{state: Set, v: v}
}

// Inherited returns an Inherit value.
func Inherited[T any]() Value[T] {
	return Value[T]{state: Inherit}
}

// State returns the tag.
func (x Value[T]) State() State { return x.state }

// IsSet reports whether x carries a concrete value.
func (x Value[T]) IsSet() bool { return x.state == Set }

// Get returns the value and whether it is Set.
func (x Value[T]) Get() (T, bool) {
	return x.v, x.state == Set
}

// Or returns the value when Set, otherwise def.
func (x Value[T]) Or(def T) T {
	if x.state == Set {
		return x.v
	}
	return def
}

// Merge returns over when it is Set and under otherwise. It is total: any
// combination of states yields a defined result.
func Merge[T any](over, under Value[T]) Value[T] {
	if over.state == Set {
		return over
	}
	return under
}

// settle collapses Inherit into Unset.
func (x Value[T]) settle() Value[T] {
	if x.state == Set {
		return x
	}
	return Value[T]{}
}
