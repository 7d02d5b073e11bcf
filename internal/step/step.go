// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package step reads ISO 10303-21 exchange structures ("STEP files").
// It parses the header and data sections into instances of typed records
// without interpreting any application schema.
package step

import (
	"fmt"
	"sort"
)

// ParamKind identifies the form of a record parameter.
type ParamKind int

const (
	// KindNull is an unset optional parameter ($).
	KindNull ParamKind = iota
	// KindDerived is a parameter redeclared as derived in a subtype (*).
	KindDerived
	KindInteger
	KindReal
	KindString
	KindEnum
	KindBinary
	KindRef
	KindList
	// KindTyped is a parameter wrapped in a defined type, e.g. LENGTH_MEASURE(25.4).
	KindTyped
)

// Param is one parameter value of a record.
type Param struct {
	Kind ParamKind

	// Int holds KindInteger values.
	Int int64
	// Real holds KindReal values.
	Real float64
	// Text holds the string, enumeration, binary, or defined type name.
	Text string
	// Ref holds the referenced instance id for KindRef.
	Ref int
	// List holds KindList items, or the single wrapped value for KindTyped.
	List []Param
}

// Number returns the numeric value of an integer, real, or typed numeric parameter.
func (p Param) Number() (float64, bool) {
	switch p.Kind {
	case KindInteger:
		return float64(p.Int), true
	case KindReal:
		return p.Real, true
	case KindTyped:
		if len(p.List) == 1 {
			return p.List[0].Number()
		}
	}
	return 0, false
}

// Reference returns the instance id of a reference parameter.
func (p Param) Reference() (int, bool) {
	if p.Kind != KindRef {
		return 0, false
	}
	return p.Ref, true
}

// Bool interprets the logical enumerations .T. and .F.
func (p Param) Bool() (bool, bool) {
	if p.Kind != KindEnum {
		return false, false
	}
	switch p.Text {
	case "T":
		return true, true
	case "F":
		return false, true
	}
	return false, false
}

// References returns the instance ids of a list of references, skipping
// items that are not references.
func (p Param) References() []int {
	if p.Kind != KindList {
		return nil
	}
	ids := make([]int, 0, len(p.List))
	for _, item := range p.List {
		if id, ok := item.Reference(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Record is a single entity record: a type name and its parameters.
type Record struct {
	Name   string
	Params []Param
}

// Param returns the i-th parameter, or a null parameter when out of range.
func (r Record) Param(i int) Param {
	if i < 0 || i >= len(r.Params) {
		return Param{Kind: KindNull}
	}
	return r.Params[i]
}

// Instance is a numbered entity instance. Simple instances hold one record;
// complex instances (an external mapping such as "(LENGTH_UNIT() SI_UNIT(...))")
// hold one record per partial entity.
type Instance struct {
	ID      int
	Records []Record
}

// IsComplex reports whether the instance uses the external mapping form.
func (i *Instance) IsComplex() bool { return len(i.Records) > 1 }

// Type returns the record name of a simple instance, or the name of the
// first partial record of a complex instance.
func (i *Instance) Type() string {
	if len(i.Records) == 0 {
		return ""
	}
	return i.Records[0].Name
}

// Record returns the record with the given name.
func (i *Instance) Record(name string) (Record, bool) {
	for _, r := range i.Records {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

// Is reports whether the instance is, or contains a partial record of, the named type.
func (i *Instance) Is(name string) bool {
	_, ok := i.Record(name)
	return ok
}

// Header holds the records of the HEADER section.
type Header struct {
	Records []Record
}

// Schemas returns the schema identifiers listed in FILE_SCHEMA.
func (h Header) Schemas() []string {
	for _, r := range h.Records {
		if r.Name != "FILE_SCHEMA" {
			continue
		}
		var out []string
		for _, p := range r.Param(0).List {
			if p.Kind == KindString {
				out = append(out, p.Text)
			}
		}
		return out
	}
	return nil
}

// File is a parsed exchange structure.
type File struct {
	Header    Header
	instances map[int]*Instance
}

// Len returns the number of data instances.
func (f *File) Len() int { return len(f.instances) }

// Get returns the instance with the given id.
func (f *File) Get(id int) (*Instance, bool) {
	inst, ok := f.instances[id]
	return inst, ok
}

// Lookup returns the instance with the given id or an error naming the dangling reference.
func (f *File) Lookup(id int) (*Instance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("reference to undefined instance #%d", id)
	}
	return inst, nil
}

// IDs returns all instance ids in ascending order.
func (f *File) IDs() []int {
	ids := make([]int, 0, len(f.instances))
	for id := range f.instances {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ByType returns, in id order, every instance that is or contains the named type.
func (f *File) ByType(name string) []*Instance {
	var out []*Instance
	for _, id := range f.IDs() {
		if inst := f.instances[id]; inst.Is(name) {
			out = append(out, inst)
		}
	}
	return out
}
