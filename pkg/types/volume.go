// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// UnitsCubicCentimeters is the only unit reported in an ExtractionResult.
const UnitsCubicCentimeters = "cm3"

// ExtractionResult is the success payload of a volume extraction.
// Volume is always > 0 and ObjectCount >= 1.
type ExtractionResult struct {
	// Volume is the summed solid volume in cubic centimetres.
	Volume float64 `json:"volume" yaml:"volume"`

	// Units is always "cm3".
	Units string `json:"units" yaml:"units"`

	// ObjectCount is the number of solids that contributed positive volume.
	ObjectCount int `json:"object_count" yaml:"object_count"`

	Success bool `json:"success" yaml:"success"`
}

// ErrorPayload is the failure payload of a volume extraction.
type ErrorPayload struct {
	Error string `json:"error" yaml:"error"`
}
