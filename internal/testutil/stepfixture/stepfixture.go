// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stepfixture builds small ISO 10303-21 files for tests: boxes as
// advanced or faceted B-reps, surface models, placements, and unit contexts.
package stepfixture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Builder accumulates data section instances.
type Builder struct {
	next  int
	lines []string
	edges map[[2]int]int
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{edges: make(map[[2]int]int)}
}

// Add appends an instance and returns its id. body is the text after "#id=".
func (b *Builder) Add(format string, args ...any) int {
	b.next++
	b.lines = append(b.lines, fmt.Sprintf("#%d=%s;", b.next, fmt.Sprintf(format, args...)))
	return b.next
}

// String renders the complete exchange structure.
func (b *Builder) String() string {
	var s strings.Builder
	s.WriteString("ISO-10303-21;\nHEADER;\n")
	s.WriteString("FILE_DESCRIPTION(('fixture'),'2;1');\n")
	s.WriteString("FILE_NAME('fixture.step','2026-01-01T00:00:00',(''),(''),'','','');\n")
	s.WriteString("FILE_SCHEMA(('AUTOMOTIVE_DESIGN'));\nENDSEC;\nDATA;\n")
	for _, l := range b.lines {
		s.WriteString(l)
		s.WriteByte('\n')
	}
	s.WriteString("ENDSEC;\nEND-ISO-10303-21;\n")
	return s.String()
}

// Write stores the file in a test temp directory and returns its path.
func (b *Builder) Write(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
	return path
}

// MillimetreContext adds a representation context whose length unit is the millimetre.
func (b *Builder) MillimetreContext() int {
	unit := b.Add("( LENGTH_UNIT() NAMED_UNIT(*) SI_UNIT(.MILLI.,.METRE.) )")
	return b.context(unit)
}

// MetreContext adds a representation context whose length unit is the metre.
func (b *Builder) MetreContext() int {
	unit := b.Add("( LENGTH_UNIT() NAMED_UNIT(*) SI_UNIT($,.METRE.) )")
	return b.context(unit)
}

// InchContext adds a representation context whose length unit is the inch.
func (b *Builder) InchContext() int {
	mm := b.Add("( LENGTH_UNIT() NAMED_UNIT(*) SI_UNIT(.MILLI.,.METRE.) )")
	measure := b.Add("LENGTH_MEASURE_WITH_UNIT(LENGTH_MEASURE(25.4),#%d)", mm)
	dims := b.Add("DIMENSIONAL_EXPONENTS(1.,0.,0.,0.,0.,0.,0.)")
	inch := b.Add("( CONVERSION_BASED_UNIT('INCH',#%d) LENGTH_UNIT() NAMED_UNIT(#%d) )", measure, dims)
	return b.context(inch)
}

func (b *Builder) context(length int) int {
	angle := b.Add("( NAMED_UNIT(*) PLANE_ANGLE_UNIT() SI_UNIT($,.RADIAN.) )")
	solid := b.Add("( NAMED_UNIT(*) SI_UNIT($,.STERADIAN.) SOLID_ANGLE_UNIT() )")
	return b.Add("( GEOMETRIC_REPRESENTATION_CONTEXT(3) GLOBAL_UNIT_ASSIGNED_CONTEXT((#%d,#%d,#%d)) REPRESENTATION_CONTEXT('ctx','3D') )",
		length, angle, solid)
}

// ShapeRepresentation adds an advanced B-rep shape representation with the given items.
func (b *Builder) ShapeRepresentation(name string, ctx int, items ...int) int {
	return b.Add("ADVANCED_BREP_SHAPE_REPRESENTATION('%s',(%s),#%d)", name, refs(items), ctx)
}

// Placement adds an axis placement, a shapeless datum.
func (b *Builder) Placement(name string) int {
	origin := b.Add("CARTESIAN_POINT('',(0.,0.,0.))")
	z := b.Add("DIRECTION('',(0.,0.,1.))")
	x := b.Add("DIRECTION('',(1.,0.,0.))")
	return b.Add("AXIS2_PLACEMENT_3D('%s',#%d,#%d,#%d)", name, origin, z, x)
}

// Box adds an axis-aligned box from lo to hi as a MANIFOLD_SOLID_BREP with
// planar advanced faces bounded by edge loops, and returns the solid id.
func (b *Builder) Box(name string, lo, hi [3]float64) int {
	v := b.corners(lo, hi, true)
	faces := make([]int, 0, 6)
	for _, quad := range boxFaces {
		faces = append(faces, b.advancedFace(v, quad, lo, hi))
	}
	shell := b.Add("CLOSED_SHELL('',(%s))", refs(faces))
	return b.Add("MANIFOLD_SOLID_BREP('%s',#%d)", name, shell)
}

// FacetedBox adds the same box as a FACETED_BREP of poly loops.
func (b *Builder) FacetedBox(name string, lo, hi [3]float64) int {
	p := b.corners(lo, hi, false)
	faces := make([]int, 0, 6)
	for _, quad := range boxFaces {
		loop := b.Add("POLY_LOOP('',(#%d,#%d,#%d,#%d))", p[quad[0]], p[quad[1]], p[quad[2]], p[quad[3]])
		bound := b.Add("FACE_OUTER_BOUND('',#%d,.T.)", loop)
		faces = append(faces, b.Add("FACE('',(#%d))", bound))
	}
	shell := b.Add("CLOSED_SHELL('',(%s))", refs(faces))
	return b.Add("FACETED_BREP('%s',#%d)", name, shell)
}

// CylinderLike adds a solid whose single face lies on a cylindrical surface.
// Kernels that only integrate planar faces cannot compute its volume.
func (b *Builder) CylinderLike(name string) int {
	placement := b.Placement("")
	surf := b.Add("CYLINDRICAL_SURFACE('',#%d,5.)", placement)
	pt := b.Add("CARTESIAN_POINT('',(5.,0.,0.))")
	vertex := b.Add("VERTEX_POINT('',#%d)", pt)
	loop := b.Add("VERTEX_LOOP('',#%d)", vertex)
	bound := b.Add("FACE_BOUND('',#%d,.T.)", loop)
	face := b.Add("ADVANCED_FACE('',(#%d),#%d,.T.)", bound, surf)
	shell := b.Add("CLOSED_SHELL('',(#%d))", face)
	return b.Add("MANIFOLD_SOLID_BREP('%s',#%d)", name, shell)
}

// Sheet adds a single square face as a SHELL_BASED_SURFACE_MODEL.
func (b *Builder) Sheet(name string, size float64) int {
	p := []int{
		b.Add("CARTESIAN_POINT('',(0.,0.,0.))"),
		b.Add("CARTESIAN_POINT('',(%s,0.,0.))", num(size)),
		b.Add("CARTESIAN_POINT('',(%s,%s,0.))", num(size), num(size)),
		b.Add("CARTESIAN_POINT('',(0.,%s,0.))", num(size)),
	}
	loop := b.Add("POLY_LOOP('',(#%d,#%d,#%d,#%d))", p[0], p[1], p[2], p[3])
	bound := b.Add("FACE_OUTER_BOUND('',#%d,.T.)", loop)
	face := b.Add("FACE('',(#%d))", bound)
	shell := b.Add("OPEN_SHELL('',(#%d))", face)
	return b.Add("SHELL_BASED_SURFACE_MODEL('%s',(#%d))", name, shell)
}

// boxFaces lists corner indices (bit 0 = x, bit 1 = y, bit 2 = z) of each
// face, counter-clockwise when viewed from outside.
var boxFaces = [6][4]int{
	{0, 2, 3, 1}, // z = lo
	{4, 5, 7, 6}, // z = hi
	{0, 1, 5, 4}, // y = lo
	{2, 6, 7, 3}, // y = hi
	{0, 4, 6, 2}, // x = lo
	{1, 3, 7, 5}, // x = hi
}

// corners adds the eight box corners as points, or as vertex points when vertices is set.
func (b *Builder) corners(lo, hi [3]float64, vertices bool) [8]int {
	var ids [8]int
	for i := range ids {
		c := [3]float64{lo[0], lo[1], lo[2]}
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				c[axis] = hi[axis]
			}
		}
		id := b.Add("CARTESIAN_POINT('',(%s,%s,%s))", num(c[0]), num(c[1]), num(c[2]))
		if vertices {
			id = b.Add("VERTEX_POINT('',#%d)", id)
		}
		ids[i] = id
	}
	return ids
}

func (b *Builder) advancedFace(v [8]int, quad [4]int, lo, hi [3]float64) int {
	oriented := make([]int, 4)
	for i := range quad {
		a, c := quad[i], quad[(i+1)%4]
		oriented[i] = b.orientedEdge(v, a, c)
	}
	loop := b.Add("EDGE_LOOP('',(%s))", refs(oriented))
	bound := b.Add("FACE_OUTER_BOUND('',#%d,.T.)", loop)
	origin := b.Add("CARTESIAN_POINT('',(%s,%s,%s))", num(lo[0]), num(lo[1]), num(lo[2]))
	axis := b.Add("DIRECTION('',(0.,0.,1.))")
	placement := b.Add("AXIS2_PLACEMENT_3D('',#%d,#%d,$)", origin, axis)
	plane := b.Add("PLANE('',#%d)", placement)
	return b.Add("ADVANCED_FACE('',(#%d),#%d,.T.)", bound, plane)
}

// orientedEdge shares one EDGE_CURVE per corner pair, running from the lower
// corner index to the higher, so half the oriented edges are reversed.
func (b *Builder) orientedEdge(v [8]int, from, to int) int {
	lo, hi := from, to
	if lo > hi {
		lo, hi = hi, lo
	}
	key := [2]int{v[lo], v[hi]}
	edge, ok := b.edges[key]
	if !ok {
		pt := b.Add("CARTESIAN_POINT('',(0.,0.,0.))")
		dir := b.Add("DIRECTION('',(1.,0.,0.))")
		vec := b.Add("VECTOR('',#%d,1.)", dir)
		line := b.Add("LINE('',#%d,#%d)", pt, vec)
		edge = b.Add("EDGE_CURVE('',#%d,#%d,#%d,.T.)", v[lo], v[hi], line)
		b.edges[key] = edge
	}
	sense := ".T."
	if from != lo {
		sense = ".F."
	}
	return b.Add("ORIENTED_EDGE('',*,*,#%d,%s)", edge, sense)
}

func refs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ",")
}

// num formats a coordinate as a STEP real.
func num(v float64) string {
	s := fmt.Sprintf("%g", v)
	if !strings.ContainsAny(s, ".eE") {
		s += "."
	}
	if i := strings.IndexAny(s, "eE"); i >= 0 && !strings.Contains(s[:i], ".") {
		s = s[:i] + "." + s[i:]
	}
	return strings.ToUpper(s)
}
