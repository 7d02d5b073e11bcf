// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package native

import (
	"errors"
	"fmt"
	"math"

	"github.com/pdiddy/step-volume/internal/step"
)

// errUnsupported marks geometry the native kernel cannot integrate. A solid
// that hits it fails the import; a partial total would be wrong.
var errUnsupported = errors.New("unsupported geometry")

const maxNesting = 16

type vec3 struct{ x, y, z float64 }

func (a vec3) sub(b vec3) vec3    { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec3) dot(b vec3) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }
func (a vec3) cross(b vec3) vec3 {
	return vec3{a.y*b.z - a.z*b.y, a.z*b.x - a.x*b.z, a.x*b.y - a.y*b.x}
}

// brep integrates boundary representations of one file. Volumes are in the
// file's native length unit cubed; callers apply the unit scale.
type brep struct {
	f *step.File
}

// solidVolume returns the enclosed volume of a solid representation item.
func (b brep) solidVolume(solid *step.Instance) (float64, error) {
	switch {
	case solid.Is("BREP_WITH_VOIDS"):
		rec, _ := solid.Record("BREP_WITH_VOIDS")
		outerParam, voidsParam := rec.Param(1), rec.Param(2)
		if solid.IsComplex() {
			// The partial records carry no name: the outer shell is the
			// only MANIFOLD_SOLID_BREP attribute.
			msb, _ := solid.Record("MANIFOLD_SOLID_BREP")
			outerParam, voidsParam = msb.Param(0), rec.Param(0)
		}
		outer, err := b.shellVolume(outerParam, 0)
		if err != nil {
			return 0, err
		}
		total := math.Abs(outer)
		for _, ref := range voidsParam.References() {
			v, err := b.shellVolume(step.Param{Kind: step.KindRef, Ref: ref}, 0)
			if err != nil {
				return 0, err
			}
			total -= math.Abs(v)
		}
		return total, nil

	case solid.Is("MANIFOLD_SOLID_BREP"), solid.Is("FACETED_BREP"):
		outerParam := solid.Records[0].Param(1)
		if solid.IsComplex() {
			msb, _ := solid.Record("MANIFOLD_SOLID_BREP")
			outerParam = msb.Param(0)
		}
		v, err := b.shellVolume(outerParam, 0)
		if err != nil {
			return 0, err
		}
		return math.Abs(v), nil
	}
	return 0, fmt.Errorf("#%d %s: %w", solid.ID, solid.Type(), errUnsupported)
}

// shellVolume returns the signed volume bounded by a closed shell.
func (b brep) shellVolume(ref step.Param, depth int) (float64, error) {
	if depth > maxNesting {
		return 0, errors.New("shell nesting too deep")
	}
	id, ok := ref.Reference()
	if !ok {
		return 0, errors.New("shell is not a reference")
	}
	shell, err := b.f.Lookup(id)
	if err != nil {
		return 0, err
	}

	switch shell.Type() {
	case "CLOSED_SHELL":
		var sum float64
		for _, faceID := range shell.Records[0].Param(1).References() {
			v, err := b.faceVolume(faceID, 0)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum / 6, nil

	case "ORIENTED_CLOSED_SHELL":
		rec := shell.Records[0]
		v, err := b.shellVolume(rec.Param(2), depth+1)
		if err != nil {
			return 0, err
		}
		if sense, ok := rec.Param(3).Bool(); ok && !sense {
			v = -v
		}
		return v, nil
	}
	return 0, fmt.Errorf("#%d %s is not a closed shell: %w", shell.ID, shell.Type(), errUnsupported)
}

// faceVolume returns the face's contribution to six times the signed volume:
// the sum over its bounds of p0·(pi × pi+1) for a fan over each loop.
func (b brep) faceVolume(id int, depth int) (float64, error) {
	if depth > maxNesting {
		return 0, errors.New("face nesting too deep")
	}
	face, err := b.f.Lookup(id)
	if err != nil {
		return 0, err
	}
	rec := face.Records[0]

	switch rec.Name {
	case "ORIENTED_FACE":
		faceID, ok := rec.Param(2).Reference()
		if !ok {
			return 0, fmt.Errorf("oriented face #%d has no face element", face.ID)
		}
		v, err := b.faceVolume(faceID, depth+1)
		if err != nil {
			return 0, err
		}
		if sense, ok := rec.Param(3).Bool(); ok && !sense {
			v = -v
		}
		return v, nil

	case "ADVANCED_FACE", "FACE_SURFACE":
		surfID, ok := rec.Param(2).Reference()
		if !ok {
			return 0, fmt.Errorf("face #%d has no surface", face.ID)
		}
		surf, err := b.f.Lookup(surfID)
		if err != nil {
			return 0, err
		}
		if surf.Type() != "PLANE" {
			return 0, fmt.Errorf("face #%d lies on %s: %w", face.ID, surf.Type(), errUnsupported)
		}

	case "FACE":
		// Faceted B-rep faces carry only poly loops.

	default:
		return 0, fmt.Errorf("#%d %s is not a face: %w", face.ID, rec.Name, errUnsupported)
	}

	var sum float64
	for _, boundID := range rec.Param(1).References() {
		v, err := b.boundVolume(boundID)
		if err != nil {
			return 0, fmt.Errorf("face #%d: %w", face.ID, err)
		}
		sum += v
	}
	return sum, nil
}

func (b brep) boundVolume(id int) (float64, error) {
	bound, err := b.f.Lookup(id)
	if err != nil {
		return 0, err
	}
	rec := bound.Records[0]
	if rec.Name != "FACE_BOUND" && rec.Name != "FACE_OUTER_BOUND" {
		return 0, fmt.Errorf("#%d %s is not a face bound: %w", bound.ID, rec.Name, errUnsupported)
	}
	loopID, ok := rec.Param(1).Reference()
	if !ok {
		return 0, fmt.Errorf("bound #%d has no loop", bound.ID)
	}
	pts, err := b.loopPoints(loopID)
	if err != nil {
		return 0, err
	}
	v := fan(pts)
	if sense, ok := rec.Param(2).Bool(); ok && !sense {
		v = -v
	}
	return v, nil
}

// fan sums p0·(pi × pi+1) over the triangle fan of a closed polygon.
func fan(pts []vec3) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum float64
	p0 := pts[0]
	for i := 1; i+1 < len(pts); i++ {
		sum += p0.dot(pts[i].cross(pts[i+1]))
	}
	return sum
}

// loopPoints returns the loop's vertices in traversal order.
func (b brep) loopPoints(id int) ([]vec3, error) {
	loop, err := b.f.Lookup(id)
	if err != nil {
		return nil, err
	}
	rec := loop.Records[0]

	switch rec.Name {
	case "POLY_LOOP":
		return b.points(rec.Param(1).References())

	case "VERTEX_LOOP":
		return nil, nil

	case "EDGE_LOOP":
		var pts []vec3
		for _, oeID := range rec.Param(1).References() {
			edgePts, err := b.orientedEdgePoints(oeID)
			if err != nil {
				return nil, err
			}
			pts = append(pts, edgePts...)
		}
		return pts, nil
	}
	return nil, fmt.Errorf("#%d %s is not a loop: %w", loop.ID, rec.Name, errUnsupported)
}

// orientedEdgePoints returns the points along an oriented edge, excluding its
// end vertex, which is the start of the next edge in the loop.
func (b brep) orientedEdgePoints(id int) ([]vec3, error) {
	oe, err := b.f.Lookup(id)
	if err != nil {
		return nil, err
	}
	rec := oe.Records[0]
	if rec.Name != "ORIENTED_EDGE" {
		return nil, fmt.Errorf("#%d %s is not an oriented edge: %w", oe.ID, rec.Name, errUnsupported)
	}
	forward, ok := rec.Param(4).Bool()
	if !ok {
		forward = true
	}
	edgeID, ok := rec.Param(3).Reference()
	if !ok {
		return nil, fmt.Errorf("oriented edge #%d has no edge", oe.ID)
	}
	edge, err := b.f.Lookup(edgeID)
	if err != nil {
		return nil, err
	}
	erec := edge.Records[0]
	if erec.Name != "EDGE_CURVE" {
		return nil, fmt.Errorf("#%d %s is not an edge curve: %w", edge.ID, erec.Name, errUnsupported)
	}

	start := erec.Param(1)
	if !forward {
		start = erec.Param(2)
	}

	curveID, ok := erec.Param(3).Reference()
	if !ok {
		return nil, fmt.Errorf("edge #%d has no curve", edge.ID)
	}
	curve, err := b.f.Lookup(curveID)
	if err != nil {
		return nil, err
	}

	switch curve.Type() {
	case "LINE":
		p, err := b.vertex(start)
		if err != nil {
			return nil, err
		}
		return []vec3{p}, nil

	case "POLYLINE":
		pts, err := b.points(curve.Records[0].Param(1).References())
		if err != nil {
			return nil, err
		}
		sameSense, ok := erec.Param(4).Bool()
		if !ok {
			sameSense = true
		}
		if sameSense != forward {
			for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
				pts[i], pts[j] = pts[j], pts[i]
			}
		}
		if len(pts) > 0 {
			pts = pts[:len(pts)-1]
		}
		return pts, nil
	}
	return nil, fmt.Errorf("edge #%d follows %s: %w", edge.ID, curve.Type(), errUnsupported)
}

func (b brep) vertex(ref step.Param) (vec3, error) {
	id, ok := ref.Reference()
	if !ok {
		return vec3{}, errors.New("vertex is not a reference")
	}
	v, err := b.f.Lookup(id)
	if err != nil {
		return vec3{}, err
	}
	if v.Type() != "VERTEX_POINT" {
		return vec3{}, fmt.Errorf("#%d %s is not a vertex point: %w", v.ID, v.Type(), errUnsupported)
	}
	ptID, ok := v.Records[0].Param(1).Reference()
	if !ok {
		return vec3{}, fmt.Errorf("vertex #%d has no point", v.ID)
	}
	pts, err := b.points([]int{ptID})
	if err != nil {
		return vec3{}, err
	}
	return pts[0], nil
}

func (b brep) points(ids []int) ([]vec3, error) {
	pts := make([]vec3, 0, len(ids))
	for _, id := range ids {
		inst, err := b.f.Lookup(id)
		if err != nil {
			return nil, err
		}
		if inst.Type() != "CARTESIAN_POINT" {
			return nil, fmt.Errorf("#%d %s is not a cartesian point: %w", inst.ID, inst.Type(), errUnsupported)
		}
		coords := inst.Records[0].Param(1).List
		var c [3]float64
		for i := 0; i < len(coords) && i < 3; i++ {
			v, ok := coords[i].Number()
			if !ok {
				return nil, fmt.Errorf("point #%d has a non-numeric coordinate", inst.ID)
			}
			c[i] = v
		}
		pts = append(pts, vec3{c[0], c[1], c[2]})
	}
	return pts, nil
}
