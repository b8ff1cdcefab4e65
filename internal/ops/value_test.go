// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

import "testing"

func TestMergeIsTotal(t *testing.T) {
	t.Parallel()

	values := map[string]Value[int]{
		"unset":   {},
		"inherit": Inherited[int](),
		"set1":    Of(1),
		"set2":    Of(2),
	}
	for overName, over := range values {
		for underName, under := range values {
			got := Merge(over, under)
			if over.IsSet() {
				if got != over {
					t.Errorf("Merge(%s, %s) = %+v, want over", overName, underName, got)
				}
				continue
			}
			if got != under {
				t.Errorf("Merge(%s, %s) = %+v, want under", overName, underName, got)
			}
		}
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()

	if got := Inherited[string]().settle(); got.State() != Unset {
		t.Errorf("settled inherit = %v, want unset", got.State())
	}
	if got := Of("x").settle(); !got.IsSet() {
		t.Error("settle must keep set values")
	}
	if got := (Value[int]{}).Or(7); got != 7 {
		t.Errorf("Or on unset = %d, want 7", got)
	}
}
