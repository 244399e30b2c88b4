// Package schema describes the payload types the engine can materialize.
//
// A Type is the Go-side stand-in for a generated schema class: an ordered list
// of fields, each with a FieldType classified into one of five kinds (Scalar,
// Enum, Map, Sequence, Record), plus a zero-value constructor (Type.New).
// Types are registered in a Registry either programmatically or by loading
// Avro schema files (.avsc).
package schema

import (
	"fmt"
	"strings"
)

// FieldKind is the closed set of shapes a field can take.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindEnum
	KindMap
	KindSequence
	KindRecord
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEnum:
		return "enum"
	case KindMap:
		return "map"
	case KindSequence:
		return "sequence"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// ScalarType enumerates the primitive-like targets of the cast table.
type ScalarType int

const (
	ScalarString ScalarType = iota
	ScalarInt
	ScalarLong
	ScalarFloat
	ScalarDouble
	ScalarBoolean
	ScalarBytes
)

// String returns the Avro primitive name.
func (s ScalarType) String() string {
	switch s {
	case ScalarString:
		return "string"
	case ScalarInt:
		return "int"
	case ScalarLong:
		return "long"
	case ScalarFloat:
		return "float"
	case ScalarDouble:
		return "double"
	case ScalarBoolean:
		return "boolean"
	case ScalarBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ScalarType(%d)", int(s))
	}
}

// Zero returns the zero value used for an unset scalar field.
func (s ScalarType) Zero() any {
	switch s {
	case ScalarInt:
		return int32(0)
	case ScalarLong:
		return int64(0)
	case ScalarFloat:
		return float32(0)
	case ScalarDouble:
		return float64(0)
	case ScalarBoolean:
		return false
	case ScalarBytes:
		return []byte{}
	default:
		return ""
	}
}

var scalarByName = map[string]ScalarType{
	"string":  ScalarString,
	"int":     ScalarInt,
	"long":    ScalarLong,
	"float":   ScalarFloat,
	"double":  ScalarDouble,
	"boolean": ScalarBoolean,
	"bytes":   ScalarBytes,
}

// ParseScalar maps an Avro primitive name to a ScalarType.
func ParseScalar(name string) (ScalarType, bool) {
	s, ok := scalarByName[name]
	return s, ok
}

// EnumType is a named set of symbols.
type EnumType struct {
	Namespace string
	Name      string
	Symbols   []string
}

func (e *EnumType) FullName() string { return fullName(e.Namespace, e.Name) }

// Has reports whether symbol is declared. Matching is case-sensitive.
func (e *EnumType) Has(symbol string) bool {
	for _, s := range e.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// FieldType is the declared type of a field, a map value, or a sequence element.
type FieldType struct {
	Kind     FieldKind
	Scalar   ScalarType
	Enum     *EnumType
	Record   *Type
	Elem     *FieldType
	Nullable bool

	// ref holds a named reference awaiting resolution by the Avro loader.
	ref string
}

func Scalar(s ScalarType) *FieldType { return &FieldType{Kind: KindScalar, Scalar: s} }

func Enum(e *EnumType) *FieldType { return &FieldType{Kind: KindEnum, Enum: e} }

func MapOf(elem *FieldType) *FieldType { return &FieldType{Kind: KindMap, Elem: elem} }

func SequenceOf(elem *FieldType) *FieldType { return &FieldType{Kind: KindSequence, Elem: elem} }

func RecordOf(t *Type) *FieldType { return &FieldType{Kind: KindRecord, Record: t} }

// Nullable returns a copy of ft that also accepts null.
func Nullable(ft *FieldType) *FieldType {
	cp := *ft
	cp.Nullable = true
	return &cp
}

func (ft *FieldType) String() string {
	var s string
	switch ft.Kind {
	case KindScalar:
		s = ft.Scalar.String()
	case KindEnum:
		s = "enum " + ft.Enum.FullName()
	case KindMap:
		s = "map<" + ft.Elem.String() + ">"
	case KindSequence:
		s = "array<" + ft.Elem.String() + ">"
	case KindRecord:
		if ft.Record != nil {
			s = ft.Record.FullName()
		} else {
			s = ft.ref
		}
	}
	if ft.Nullable {
		s += "?"
	}
	return s
}

// Zero returns the value an unset field of this type holds.
func (ft *FieldType) Zero() any {
	if ft.Nullable {
		return nil
	}
	switch ft.Kind {
	case KindScalar:
		return ft.Scalar.Zero()
	case KindEnum:
		if len(ft.Enum.Symbols) == 0 {
			return ""
		}
		return ft.Enum.Symbols[0]
	case KindMap:
		return map[string]any{}
	case KindSequence:
		return []any{}
	case KindRecord:
		return ft.Record.New()
	default:
		return nil
	}
}

// Field is one declared field of a Type. Reserved fields are owned by the
// code generator and are never assigned from configuration data.
type Field struct {
	Name     string
	Type     *FieldType
	Reserved bool
	Doc      string
}

// Type describes a record schema.
type Type struct {
	Namespace string
	Name      string
	Doc       string
	Fields    []Field

	index map[string]int
}

// NewType builds a Type and indexes its fields by name.
func NewType(namespace, name string, fields ...Field) *Type {
	t := &Type{Namespace: namespace, Name: name, Fields: fields}
	t.reindex()
	return t
}

func (t *Type) reindex() {
	t.index = make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		t.index[f.Name] = i
	}
}

func (t *Type) FullName() string { return fullName(t.Namespace, t.Name) }

// Field looks up a declared field by name.
func (t *Type) Field(name string) (Field, bool) {
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

// New returns a record with every field at its zero value.
func (t *Type) New() *Record {
	if t.index == nil {
		t.reindex()
	}
	values := make([]any, len(t.Fields))
	for i, f := range t.Fields {
		values[i] = f.Type.Zero()
	}
	return &Record{typ: t, values: values}
}

func fullName(namespace, name string) string {
	if namespace == "" || strings.Contains(name, ".") {
		return name
	}
	return namespace + "." + name
}

// splitFullName is the inverse of fullName.
func splitFullName(full string) (namespace, name string) {
	i := strings.LastIndex(full, ".")
	if i < 0 {
		return "", full
	}
	return full[:i], full[i+1:]
}
