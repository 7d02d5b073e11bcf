// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package native implements a pure-Go geometry kernel for STEP files whose
// solids are bounded by planar faces (faceted and planar advanced B-reps).
// A solid with a curved face or edge fails the import.
package native

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/step-volume/internal/kernel"
	"github.com/pdiddy/step-volume/internal/step"
)

// KernelName is the name reported by the native kernel.
const KernelName = "native"

var (
	solidTypes   = []string{"BREP_WITH_VOIDS", "MANIFOLD_SOLID_BREP", "FACETED_BREP"}
	surfaceTypes = []string{
		"SHELL_BASED_SURFACE_MODEL",
		"FACE_BASED_SURFACE_MODEL",
		"SHELL_BASED_WIREFRAME_MODEL",
		"EDGE_BASED_WIREFRAME_MODEL",
		"GEOMETRIC_CURVE_SET",
		"GEOMETRIC_SET",
	}
)

// scopes tracks document scopes that are open in this process.
var scopes = struct {
	sync.Mutex
	open map[string]struct{}
}{open: make(map[string]struct{})}

// OpenDocuments returns the names of document scopes that have been created
// and not yet closed, sorted.
func OpenDocuments() []string {
	scopes.Lock()
	defer scopes.Unlock()
	names := make([]string, 0, len(scopes.open))
	for name := range scopes.open {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kernel is the native geometry kernel.
type Kernel struct {
	logger *zap.Logger
}

// New creates a native kernel. A nil logger disables logging.
func New(logger *zap.Logger) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kernel{logger: logger.Named(KernelName)}
}

func (k *Kernel) Name() string { return KernelName }

// Available always succeeds: the native kernel is compiled in.
func (k *Kernel) Available(ctx context.Context) error { return nil }

// NewDocument registers a new document scope. Names must be unique among
// open scopes.
func (k *Kernel) NewDocument(ctx context.Context, name string) (kernel.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scopes.Lock()
	defer scopes.Unlock()
	if _, exists := scopes.open[name]; exists {
		return nil, fmt.Errorf("document %q is already open", name)
	}
	scopes.open[name] = struct{}{}
	k.logger.Debug("document opened", zap.String("document", name))
	return &document{name: name, logger: k.logger}, nil
}

type document struct {
	name    string
	logger  *zap.Logger
	objects []kernel.Object
	closed  bool
}

func (d *document) Name() string { return d.name }

func (d *document) Import(ctx context.Context, path string) error {
	if d.closed {
		return fmt.Errorf("document %q is closed", d.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := step.ParseFile(path)
	if err != nil {
		return err
	}
	objects, err := buildObjects(f)
	if err != nil {
		return err
	}
	d.objects = append(d.objects, objects...)
	d.logger.Debug("file imported",
		zap.String("document", d.name),
		zap.String("path", path),
		zap.Int("instances", f.Len()),
		zap.Int("objects", len(objects)),
	)
	return nil
}

func (d *document) Objects() []kernel.Object { return d.objects }

func (d *document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.objects = nil
	scopes.Lock()
	delete(scopes.open, d.name)
	scopes.Unlock()
	d.logger.Debug("document closed", zap.String("document", d.name))
	return nil
}

// datum is an object without a shape: placements, mapped items, styling.
type datum struct {
	label string
}

func (o *datum) Label() string { return o.label }

// body is an object with a shape.
type body struct {
	label string
	shape *shape
}

func (o *body) Label() string { return o.label }

func (o *body) Shape() (kernel.Shape, bool) { return o.shape, true }

type shape struct {
	mm3 float64
}

func (s *shape) Volume() (float64, bool) { return s.mm3, true }

func isAny(inst *step.Instance, types []string) bool {
	for _, t := range types {
		if inst.Is(t) {
			return true
		}
	}
	return false
}

func label(inst *step.Instance) string {
	name := inst.Records[0].Param(0)
	if r, ok := inst.Record("REPRESENTATION_ITEM"); ok {
		name = r.Param(0)
	}
	if name.Kind == step.KindString && name.Text != "" {
		return name.Text
	}
	return fmt.Sprintf("#%d %s", inst.ID, inst.Type())
}

// shapeRepresentation returns the record holding (name, items, context) of a
// shape representation instance.
func shapeRepresentation(inst *step.Instance) (step.Record, bool) {
	if inst.IsComplex() {
		if !inst.Is("SHAPE_REPRESENTATION") {
			return step.Record{}, false
		}
		return inst.Record("REPRESENTATION")
	}
	rec := inst.Records[0]
	if strings.HasSuffix(rec.Name, "SHAPE_REPRESENTATION") && len(rec.Params) == 3 {
		return rec, true
	}
	return step.Record{}, false
}

// buildObjects enumerates the items of every shape representation, then
// solids that no representation references, in instance id order.
func buildObjects(f *step.File) ([]kernel.Object, error) {
	fallback, err := defaultScale(f)
	if err != nil {
		return nil, err
	}

	type entry struct {
		id  int
		obj kernel.Object
	}
	var entries []entry
	seen := make(map[int]bool)

	add := func(item *step.Instance, scale float64) error {
		seen[item.ID] = true
		obj, err := newObject(f, item, scale)
		if err != nil {
			return err
		}
		entries = append(entries, entry{id: item.ID, obj: obj})
		return nil
	}

	for _, id := range f.IDs() {
		inst, _ := f.Get(id)
		rec, ok := shapeRepresentation(inst)
		if !ok {
			continue
		}
		scale := fallback
		if ctxID, ok := rec.Param(2).Reference(); ok {
			ctx, err := f.Lookup(ctxID)
			if err != nil {
				return nil, fmt.Errorf("representation #%d: %w", inst.ID, err)
			}
			s, assigned, err := contextScale(f, ctx)
			if err != nil {
				return nil, err
			}
			if assigned {
				scale = s
			}
		}
		for _, itemID := range rec.Param(1).References() {
			if seen[itemID] {
				continue
			}
			item, err := f.Lookup(itemID)
			if err != nil {
				return nil, fmt.Errorf("representation #%d: %w", inst.ID, err)
			}
			if err := add(item, scale); err != nil {
				return nil, err
			}
		}
	}

	for _, id := range f.IDs() {
		inst, _ := f.Get(id)
		if seen[id] || !isAny(inst, solidTypes) {
			continue
		}
		if err := add(inst, fallback); err != nil {
			return nil, err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	objects := make([]kernel.Object, len(entries))
	for i, e := range entries {
		objects[i] = e.obj
	}
	return objects, nil
}

func newObject(f *step.File, inst *step.Instance, scale float64) (kernel.Object, error) {
	switch {
	case isAny(inst, solidTypes):
		v, err := brep{f: f}.solidVolume(inst)
		if errors.Is(err, errUnsupported) {
			return nil, fmt.Errorf("solid #%d: %w (only planar faces are integrated; use --kernel freecad)", inst.ID, err)
		}
		if err != nil {
			return nil, fmt.Errorf("solid #%d: %w", inst.ID, err)
		}
		return &body{label: label(inst), shape: &shape{mm3: v * scale * scale * scale}}, nil

	case isAny(inst, surfaceTypes):
		return &body{label: label(inst), shape: &shape{}}, nil
	}
	return &datum{label: label(inst)}, nil
}
