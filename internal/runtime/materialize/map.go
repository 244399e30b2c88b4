// Package materialize builds typed schema records from untyped configuration
// data.
//
// Map is the canonical form: nested mappings mirror nested records, and maps
// and sequences are supported. Properties is the legacy flat form using
// dotted keys; it cannot express maps or sequences.
package materialize

import (
	"fmt"
	"sort"
	"strconv"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/schema"
)

// Map materializes data into a new record of type t. Keys that name no
// declared field are ignored; declared fields missing from data keep their
// zero value.
func Map(t *schema.Type, data map[string]any) (*schema.Record, error) {
	return mapRecord(t, data, "")
}

func mapRecord(t *schema.Type, data map[string]any, prefix string) (*schema.Record, error) {
	rec := t.New()
	for _, f := range t.Fields {
		if f.Reserved {
			continue
		}
		raw, ok := data[f.Name]
		if !ok {
			continue
		}
		path := joinPath(prefix, f.Name)
		v, err := value(f.Type, raw, path)
		if err != nil {
			return nil, wrap(t, path, err)
		}
		if err := rec.Set(f.Name, v); err != nil {
			return nil, wrap(t, path, err)
		}
	}
	return rec, nil
}

func value(ft *schema.FieldType, raw any, path string) (any, error) {
	if raw == nil {
		return ft.Zero(), nil
	}

	switch ft.Kind {
	case schema.KindScalar:
		return Coerce(path, ft.Scalar, raw)

	case schema.KindEnum:
		symbol, ok := raw.(string)
		if !ok || !ft.Enum.Has(symbol) {
			return nil, &errspkg.UnknownEnumSymbolError{
				Field: path, Enum: ft.Enum.FullName(), Symbol: raw, Symbols: ft.Enum.Symbols,
			}
		}
		return symbol, nil

	case schema.KindMap:
		m, ok := asMapping(raw)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", errspkg.ErrNotARecord, raw)
		}
		out := make(map[string]any, len(m))
		for k, e := range m {
			v, err := value(ft.Elem, e, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case schema.KindSequence:
		items, err := sequence(raw)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, e := range items {
			v, err := value(ft.Elem, e, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case schema.KindRecord:
		if rec, ok := raw.(*schema.Record); ok && rec.Type() == ft.Record {
			return rec, nil
		}
		m, ok := asMapping(raw)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", errspkg.ErrNotARecord, raw)
		}
		return mapRecord(ft.Record, m, path)
	}
	return nil, fmt.Errorf("unsupported field kind %s", ft.Kind)
}

// sequence accepts a true sequence or a mapping. Mapping entries are taken in
// key order: numeric when every key is an integer, lexical otherwise.
func sequence(raw any) ([]any, error) {
	switch s := raw.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	}

	m, ok := asMapping(raw)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", errspkg.ErrNotASequence, raw)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out, nil
}

func sortKeys(keys []string) {
	nums := make(map[string]int64, len(keys))
	for _, k := range keys {
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			sort.Strings(keys)
			return
		}
		nums[k] = n
	}
	sort.Slice(keys, func(i, j int) bool {
		if nums[keys[i]] != nums[keys[j]] {
			return nums[keys[i]] < nums[keys[j]]
		}
		return keys[i] < keys[j]
	})
}

// asMapping normalises the mapping shapes produced by the YAML and JSON
// decoders into a string-keyed map.
func asMapping(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// wrap attaches the outermost failing path once; nested failures already
// carry their own path.
func wrap(t *schema.Type, path string, err error) error {
	if _, ok := err.(*errspkg.MaterializationError); ok {
		return err
	}
	return &errspkg.MaterializationError{Type: t.FullName(), Path: path, Err: err}
}
