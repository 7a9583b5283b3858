// Package schema implements the fixed-width tuple schema a logical
// source is registered with: field name, type, and wire order, plus the
// diffing used to check whether two sources are structurally compatible
// for sharing a placed subplan.
package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FieldType is the wire type of one schema field. Every type has a fixed
// byte width so a tuple's total width is computable without touching its
// bytes (spec.md §6: "payload: numTuples × schema-fixed-width tuple").
type FieldType uint8

const (
	Int32 FieldType = iota
	Int64
	Float64
	Bool
	// Char is a fixed-width byte array; its width is carried on the Field
	// itself rather than implied by the type.
	Char
)

func (t FieldType) String() string {
	switch t {
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Float64:
		return "FLOAT64"
	case Bool:
		return "BOOL"
	case Char:
		return "CHAR"
	default:
		return "UNKNOWN"
	}
}

// Width returns t's fixed byte width, or 0 for Char (callers must use the
// Field's own Width instead).
func (t FieldType) Width() int {
	switch t {
	case Int32:
		return 4
	case Int64, Float64:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}

// Field is one column of a Schema: name, type, order (order is the
// Fields slice index; not stored separately).
type Field struct {
	Name  string
	Type  FieldType
	Width int // only meaningful for Char fields
}

// ByteWidth returns this field's fixed width on the wire.
func (f Field) ByteWidth() int {
	if f.Type == Char {
		return f.Width
	}
	return f.Type.Width()
}

// Schema is an ordered list of fields describing one logical source's
// tuple layout.
type Schema struct {
	Fields []Field
}

var ErrMalformedSchema = errors.New("schema: malformed encoding")

// TupleWidth returns the fixed byte width of one tuple under this schema.
func (s Schema) TupleWidth() int {
	w := 0
	for _, f := range s.Fields {
		w += f.ByteWidth()
	}
	return w
}

// FieldNames returns the ordered field names.
func (s Schema) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// MarshalBinary encodes s as: uint16 field count, then per field a uint16
// name length, the name bytes, a type byte, and a uint16 width.
func (s Schema) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(s.Fields)))
	for _, f := range s.Fields {
		nameLen := make([]byte, 2)
		binary.BigEndian.PutUint16(nameLen, uint16(len(f.Name)))
		buf = append(buf, nameLen...)
		buf = append(buf, []byte(f.Name)...)
		buf = append(buf, byte(f.Type))
		width := make([]byte, 2)
		binary.BigEndian.PutUint16(width, uint16(f.ByteWidth()))
		buf = append(buf, width...)
	}
	return buf, nil
}

// UnmarshalSchema decodes a Schema produced by MarshalBinary.
func UnmarshalSchema(b []byte) (Schema, error) {
	if len(b) < 2 {
		return Schema{}, fmt.Errorf("%w: need at least 2 bytes", ErrMalformedSchema)
	}
	count := binary.BigEndian.Uint16(b[0:2])
	off := 2
	fields := make([]Field, 0, count)
	for i := uint16(0); i < count; i++ {
		if off+2 > len(b) {
			return Schema{}, fmt.Errorf("%w: truncated name length", ErrMalformedSchema)
		}
		nameLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+nameLen+3 > len(b) {
			return Schema{}, fmt.Errorf("%w: truncated field", ErrMalformedSchema)
		}
		name := string(b[off : off+nameLen])
		off += nameLen
		typ := FieldType(b[off])
		off++
		width := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		f := Field{Name: name, Type: typ}
		if typ == Char {
			f.Width = width
		}
		fields = append(fields, f)
	}
	return Schema{Fields: fields}, nil
}

// FieldDiff describes one field whose type or width changed between two
// schemas with the same name.
type FieldDiff struct {
	Name     string
	OldType  FieldType
	NewType  FieldType
	OldWidth int
	NewWidth int
}

// SchemaDiff is the result of comparing two schemas field by field.
type SchemaDiff struct {
	Added   []Field
	Removed []Field
	Changed []FieldDiff
}

// HasDifferences reports whether the diff found any added, removed, or
// changed field.
func (d SchemaDiff) HasDifferences() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}

// Diff compares s against other by field name, reporting additions,
// removals, and type/width changes. Field order is not part of the
// comparison; two schemas with the same fields in different orders diff
// as equal (order is part of the wire round-trip contract, not of
// semantic compatibility).
func (s Schema) Diff(other Schema) SchemaDiff {
	byName := make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		byName[f.Name] = f
	}
	otherByName := make(map[string]Field, len(other.Fields))
	for _, f := range other.Fields {
		otherByName[f.Name] = f
	}

	var diff SchemaDiff
	for _, f := range s.Fields {
		of, ok := otherByName[f.Name]
		if !ok {
			diff.Removed = append(diff.Removed, f)
			continue
		}
		if of.Type != f.Type || of.ByteWidth() != f.ByteWidth() {
			diff.Changed = append(diff.Changed, FieldDiff{
				Name: f.Name, OldType: f.Type, NewType: of.Type,
				OldWidth: f.ByteWidth(), NewWidth: of.ByteWidth(),
			})
		}
	}
	for _, f := range other.Fields {
		if _, ok := byName[f.Name]; !ok {
			diff.Added = append(diff.Added, f)
		}
	}
	return diff
}

// Compatible reports whether s and other have identical field sets
// (ignoring order) with matching types and widths — the check a logical
// source re-registration or a shared-plan merge uses to confirm two
// sources agree on layout.
func (s Schema) Compatible(other Schema) bool {
	return !s.Diff(other).HasDifferences()
}
