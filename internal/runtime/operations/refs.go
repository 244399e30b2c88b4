package operations

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/jsoncodec"
)

// Definitions is the event section of a configuration document.
type Definitions struct {
	Topics    []string             `yaml:"topics" json:"topics"`
	Producers []*ProducerOperation `yaml:"producers" json:"producers"`
	Consumers []*ConsumerOperation `yaml:"consumers" json:"consumers"`
	Refs      map[string]any       `yaml:"refs,omitempty" json:"refs,omitempty"`
}

// RefLoader finds named fragments that are not declared inline.
type RefLoader interface {
	LoadRef(name string) (map[string]any, bool, error)
}

// DirRefLoader reads fragments from <Dir>/<name>.json, .yaml or .yml.
type DirRefLoader struct {
	Dir string
}

var refExtensions = []string{".json", ".yaml", ".yml"}

func (l DirRefLoader) LoadRef(name string) (map[string]any, bool, error) {
	if l.Dir == "" {
		return nil, false, nil
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, false, fmt.Errorf("invalid ref name %q", name)
	}
	for _, ext := range refExtensions {
		path := filepath.Join(l.Dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, false, err
		}

		var out map[string]any
		if ext == ".json" {
			err = jsoncodec.UnmarshalNumber(data, &out)
		} else {
			err = yaml.Unmarshal(data, &out)
		}
		if err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", path, err)
		}
		return out, true, nil
	}
	return nil, false, nil
}

// ResolveRefs replaces record.value with a copy of the referenced fragment for
// every producer that names a ref. Inline refs win over the loader, and a ref
// wins over an inline value. Every unresolved ref is reported.
func (d *Definitions) ResolveRefs(loader RefLoader) error {
	var errs []error
	for _, p := range d.Producers {
		if p == nil || p.Record == nil || p.Record.Ref == "" {
			continue
		}
		fragment, err := d.lookupRef(p.Record.Ref, loader)
		if err != nil {
			errs = append(errs, errspkg.NewConfigError(p.OperationID, "record.ref", errspkg.ErrUnresolvedRef,
				fmt.Sprintf("reference %q: %v", p.Record.Ref, err)))
			continue
		}
		if fragment == nil {
			errs = append(errs, errspkg.NewConfigError(p.OperationID, "record.ref", errspkg.ErrUnresolvedRef,
				fmt.Sprintf("reference %q not found", p.Record.Ref)))
			continue
		}
		p.Record.Value = fragment
	}
	return errors.Join(errs...)
}

func (d *Definitions) lookupRef(name string, loader RefLoader) (map[string]any, error) {
	if raw, ok := d.Refs[name]; ok {
		m, ok := deepCopy(raw).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("fragment is %T, not a mapping", raw)
		}
		return m, nil
	}
	if loader == nil {
		return nil, nil
	}
	m, found, err := loader.LoadRef(name)
	if err != nil || !found {
		return nil, err
	}
	return m, nil
}

// deepCopy clones nested mappings and sequences so producers sharing a
// fragment never alias each other's data.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// Normalize applies Normalize to every consumer.
func (d *Definitions) Normalize() {
	for _, c := range d.Consumers {
		if c != nil {
			c.Normalize()
		}
	}
}
