// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package native

import (
	"fmt"
	"math"

	"github.com/pdiddy/step-volume/internal/step"
)

// siPrefixes maps SI_UNIT prefix enumerations to their power of ten.
var siPrefixes = map[string]int{
	"EXA":   18,
	"PETA":  15,
	"TERA":  12,
	"GIGA":  9,
	"MEGA":  6,
	"KILO":  3,
	"HECTO": 2,
	"DECA":  1,
	"DECI":  -1,
	"CENTI": -2,
	"MILLI": -3,
	"MICRO": -6,
	"NANO":  -9,
	"PICO":  -12,
	"FEMTO": -15,
	"ATTO":  -18,
}

// maxUnitDepth bounds conversion-based unit chains.
const maxUnitDepth = 8

// lengthScale returns the number of millimetres in one length unit of the
// given unit instance.
func lengthScale(f *step.File, unit *step.Instance, depth int) (float64, error) {
	if depth > maxUnitDepth {
		return 0, fmt.Errorf("unit #%d: conversion chain too deep", unit.ID)
	}

	if si, ok := unit.Record("SI_UNIT"); ok {
		// The simple form carries the derived dimensions attribute first.
		params := si.Params
		if len(params) == 3 {
			params = params[1:]
		}
		if len(params) != 2 {
			return 0, fmt.Errorf("unit #%d: malformed SI_UNIT", unit.ID)
		}
		if params[1].Kind != step.KindEnum || params[1].Text != "METRE" {
			return 0, fmt.Errorf("unit #%d: %s is not a length unit", unit.ID, params[1].Text)
		}
		exp := 0
		if params[0].Kind == step.KindEnum {
			p, ok := siPrefixes[params[0].Text]
			if !ok {
				return 0, fmt.Errorf("unit #%d: unknown SI prefix %s", unit.ID, params[0].Text)
			}
			exp = p
		}
		// Millimetres per unit, exact for the millimetre itself.
		return math.Pow10(exp + 3), nil
	}

	if cb, ok := unit.Record("CONVERSION_BASED_UNIT"); ok {
		ref, ok := cb.Param(1).Reference()
		if !ok {
			return 0, fmt.Errorf("unit #%d: conversion factor is not a reference", unit.ID)
		}
		measure, err := f.Lookup(ref)
		if err != nil {
			return 0, fmt.Errorf("unit #%d: %w", unit.ID, err)
		}
		rec := measure.Records[0]
		value, ok := rec.Param(0).Number()
		if !ok {
			return 0, fmt.Errorf("unit #%d: conversion factor #%d has no numeric value", unit.ID, measure.ID)
		}
		baseRef, ok := rec.Param(1).Reference()
		if !ok {
			return 0, fmt.Errorf("unit #%d: conversion factor #%d has no base unit", unit.ID, measure.ID)
		}
		base, err := f.Lookup(baseRef)
		if err != nil {
			return 0, fmt.Errorf("unit #%d: %w", unit.ID, err)
		}
		baseScale, err := lengthScale(f, base, depth+1)
		if err != nil {
			return 0, err
		}
		return value * baseScale, nil
	}

	return 0, fmt.Errorf("unit #%d: unsupported length unit %s", unit.ID, unit.Type())
}

// contextScale returns the millimetre scale of the length unit assigned to
// a representation context, and false when the context assigns none.
func contextScale(f *step.File, ctx *step.Instance) (float64, bool, error) {
	assigned, ok := ctx.Record("GLOBAL_UNIT_ASSIGNED_CONTEXT")
	if !ok {
		return 0, false, nil
	}
	for _, ref := range assigned.Param(0).References() {
		unit, err := f.Lookup(ref)
		if err != nil {
			return 0, false, err
		}
		if !unit.Is("LENGTH_UNIT") {
			continue
		}
		scale, err := lengthScale(f, unit, 0)
		if err != nil {
			return 0, false, err
		}
		return scale, true, nil
	}
	return 0, false, nil
}

// defaultScale returns the scale of the first representation context in the
// file that assigns a length unit, or 1 (millimetres) when none does.
func defaultScale(f *step.File) (float64, error) {
	for _, ctx := range f.ByType("GLOBAL_UNIT_ASSIGNED_CONTEXT") {
		scale, ok, err := contextScale(f, ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			return scale, nil
		}
	}
	return 1, nil
}
