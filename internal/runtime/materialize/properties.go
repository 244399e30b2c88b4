package materialize

import (
	"strings"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/schema"
)

// Properties materializes a flat property bag. Top-level fields are looked up
// by name and nested record fields by their dotted path (parent.child). Map
// and sequence fields are skipped and keep their zero value.
//
// Deprecated: use Map, which also supports maps and sequences.
func Properties(t *schema.Type, props map[string]any) (*schema.Record, error) {
	return propertiesRecord(t, props, "")
}

func propertiesRecord(t *schema.Type, props map[string]any, prefix string) (*schema.Record, error) {
	rec := t.New()
	for _, f := range t.Fields {
		if f.Reserved {
			continue
		}
		path := joinPath(prefix, f.Name)

		var (
			v   any
			err error
		)
		switch f.Type.Kind {
		case schema.KindMap, schema.KindSequence:
			continue
		case schema.KindRecord:
			if f.Type.Nullable && !hasPrefix(props, path+".") {
				continue
			}
			v, err = propertiesRecord(f.Type.Record, props, path)
		default:
			raw, ok := props[path]
			if !ok {
				continue
			}
			v, err = value(f.Type, raw, path)
		}
		if err != nil {
			return nil, wrap(t, path, err)
		}
		if err := rec.Set(f.Name, v); err != nil {
			return nil, &errspkg.MaterializationError{Type: t.FullName(), Path: path, Err: err}
		}
	}
	return rec, nil
}

func hasPrefix(props map[string]any, prefix string) bool {
	for k := range props {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
