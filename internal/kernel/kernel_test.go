// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type datum struct{}

func (datum) Label() string { return "datum" }

type shape struct {
	v       float64
	defined bool
}

func (s shape) Volume() (float64, bool) { return s.v, s.defined }

type body struct {
	shape Shape
}

func (b body) Label() string { return "body" }

func (b body) Shape() (Shape, bool) { return b.shape, b.shape != nil }

func TestHasVolume(t *testing.T) {
	tests := []struct {
		name    string
		obj     Object
		want    float64
		wantOK  bool
		wantShp bool
	}{
		{"object without shape capability", datum{}, 0, false, false},
		{"shaped object with nil shape", body{}, 0, false, false},
		{"shape with undefined volume", body{shape: shape{defined: false}}, 0, false, true},
		{"shape with zero volume", body{shape: shape{v: 0, defined: true}}, 0, true, true},
		{"solid", body{shape: shape{v: 1000, defined: true}}, 1000, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hasShape := HasShape(tt.obj)
			assert.Equal(t, tt.wantShp, hasShape)

			v, ok := HasVolume(tt.obj)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, v, 1e-12)
		})
	}
}
