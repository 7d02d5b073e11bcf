// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package kernel defines the contract between volume extraction and a
// geometry kernel: named document scopes, STEP import into a scope, and
// per-object shapes that may expose a volume in cubic millimetres.
package kernel

import (
	"context"
	"errors"
)

// ErrUnavailable is returned (wrapped) when a kernel cannot be located or
// loaded in the current environment.
var ErrUnavailable = errors.New("geometry kernel unavailable")

// Kernel is a geometry kernel binding.
type Kernel interface {
	// Name identifies the kernel ("freecad", "native").
	Name() string

	// Available returns nil when the kernel can be used, or an error
	// wrapping ErrUnavailable describing why it cannot.
	Available(ctx context.Context) error

	// NewDocument creates a fresh, empty document scope with the given name.
	// The caller must Close the document.
	NewDocument(ctx context.Context, name string) (Document, error)
}

// Document is an isolated in-memory container of imported objects.
type Document interface {
	Name() string

	// Import loads the STEP file at path into the document. The returned
	// error carries the kernel diagnostic when the file is rejected.
	Import(ctx context.Context, path string) error

	// Objects returns the top-level objects of the document in a stable order.
	Objects() []Object

	// Close releases the document scope. Closing twice is a no-op.
	Close() error
}

// Object is a top-level document object. Objects may additionally
// implement Shaped.
type Object interface {
	Label() string
}

// Shaped is implemented by objects that may carry a geometric shape.
type Shaped interface {
	Shape() (Shape, bool)
}

// Shape is a geometric shape whose volume may be undefined.
type Shape interface {
	// Volume returns the enclosed volume in cubic millimetres and whether
	// the property is defined for this shape.
	Volume() (float64, bool)
}

// HasShape returns the object's shape when it exposes one.
func HasShape(o Object) (Shape, bool) {
	s, ok := o.(Shaped)
	if !ok {
		return nil, false
	}
	return s.Shape()
}

// HasVolume returns the object's volume when it has a shape with a defined
// volume property.
func HasVolume(o Object) (float64, bool) {
	shape, ok := HasShape(o)
	if !ok || shape == nil {
		return 0, false
	}
	return shape.Volume()
}
