package schema

import (
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/kemock/kem/internal/runtime/jsoncodec"
)

// Record is a materialized instance of a Type. Values are held in field order.
//
// Value representation per kind: scalars use the Go types returned by
// ScalarType.Zero, enums are symbol strings, maps are map[string]any,
// sequences are []any, nested records are *Record and a null is nil.
type Record struct {
	typ    *Type
	values []any
}

func (r *Record) Type() *Type { return r.typ }

// Get returns the current value of a field.
func (r *Record) Get(name string) (any, bool) {
	i, ok := r.typ.index[name]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Set assigns a field. It does not check the value against the field type.
func (r *Record) Set(name string, value any) error {
	i, ok := r.typ.index[name]
	if !ok {
		return fmt.Errorf("record %s has no field %q", r.typ.FullName(), name)
	}
	r.values[i] = value
	return nil
}

// Native converts the record into the generic form goavro encodes, wrapping
// nullable values as unions.
func (r *Record) Native() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, f := range r.typ.Fields {
		out[f.Name] = nativeValue(f.Type, r.values[i])
	}
	return out
}

// Plain converts the record into nested maps and slices without union
// wrappers. It is the shape used for JSON and protobuf payloads.
func (r *Record) Plain() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, f := range r.typ.Fields {
		out[f.Name] = plainValue(r.values[i])
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(r.Plain())
}

// String renders the record as JSON for log lines.
func (r *Record) String() string {
	return jsoncodec.MarshalString(r.Plain())
}

func nativeValue(ft *FieldType, v any) any {
	if v == nil {
		if ft.Nullable {
			return goavro.Union("null", nil)
		}
		return ft.Zero()
	}
	var datum any
	switch ft.Kind {
	case KindRecord:
		if rec, ok := v.(*Record); ok {
			datum = rec.Native()
		} else {
			datum = v
		}
	case KindMap:
		m, _ := v.(map[string]any)
		nm := make(map[string]any, len(m))
		for k, e := range m {
			nm[k] = nativeValue(ft.Elem, e)
		}
		datum = nm
	case KindSequence:
		s, _ := v.([]any)
		ns := make([]any, len(s))
		for i, e := range s {
			ns[i] = nativeValue(ft.Elem, e)
		}
		datum = ns
	default:
		datum = v
	}
	if ft.Nullable {
		return goavro.Union(ft.unionBranch(), datum)
	}
	return datum
}

// unionBranch is the name goavro uses to select the non-null branch.
func (ft *FieldType) unionBranch() string {
	switch ft.Kind {
	case KindScalar:
		return ft.Scalar.String()
	case KindEnum:
		return ft.Enum.FullName()
	case KindRecord:
		return ft.Record.FullName()
	case KindMap:
		return "map"
	default:
		return "array"
	}
}

func plainValue(v any) any {
	switch val := v.(type) {
	case *Record:
		return val.Plain()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = plainValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}
