// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

// Package ops defines image operation sets and turns them into an ordered
// processing plan.
//
// An OperationSet is built from ordered query parameters (Parse) or from
// stored template values (ParseTemplate). Layers are combined with Over
// and finalised with Settle, after which no field is Inherit. Validate
// checks constraints spanning several options.
//
// Sequence emits steps in one fixed order regardless of how the request
// was written:
//
//	flip -> rotate -> crop -> resize -> overlay -> tile -> profile -> colorspace -> strip
//
// so identical option sets always produce identical plans.
package ops
