package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/linkedin/goavro/v2"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
)

// Registry maps fully qualified names to schema types. It is safe for
// concurrent use; codecs are built once per type and cached.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*Type
	enums  map[string]*EnumType
	codecs map[string]*goavro.Codec
}

func NewRegistry() *Registry {
	return &Registry{
		types:  make(map[string]*Type),
		enums:  make(map[string]*EnumType),
		codecs: make(map[string]*goavro.Codec),
	}
}

// Register adds record types, and every record or enum reachable through
// their fields. Registering a different type under an existing name fails.
func (r *Registry) Register(types ...*Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if err := r.registerLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerLocked(t *Type) error {
	name := t.FullName()
	if existing, ok := r.types[name]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("schema: type %s already registered", name)
	}
	if t.index == nil {
		t.reindex()
	}
	r.types[name] = t
	for _, f := range t.Fields {
		if err := r.registerFieldLocked(f.Type); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerFieldLocked(ft *FieldType) error {
	switch ft.Kind {
	case KindRecord:
		return r.registerLocked(ft.Record)
	case KindEnum:
		r.enums[ft.Enum.FullName()] = ft.Enum
	case KindMap, KindSequence:
		return r.registerFieldLocked(ft.Elem)
	}
	return nil
}

// Lookup returns the type registered under namespace.name.
func (r *Registry) Lookup(namespace, name string) (*Type, error) {
	full := fullName(namespace, name)
	r.mu.RLock()
	t, ok := r.types[full]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownSchemaType, full)
	}
	return t, nil
}

// MustLookup is Lookup for tests and static wiring.
func (r *Registry) MustLookup(namespace, name string) *Type {
	t, err := r.Lookup(namespace, name)
	if err != nil {
		panic(err)
	}
	return t
}

// Types lists registered record types ordered by full name.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// Codec returns the Avro codec for t, building it on first use.
func (r *Registry) Codec(t *Type) (*goavro.Codec, error) {
	name := t.FullName()
	r.mu.RLock()
	codec, ok := r.codecs[name]
	r.mu.RUnlock()
	if ok {
		return codec, nil
	}

	doc, err := t.AvroSchema()
	if err != nil {
		return nil, err
	}
	codec, err = goavro.NewCodec(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: build avro codec for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.codecs[name]; ok {
		return existing, nil
	}
	r.codecs[name] = codec
	return codec, nil
}

func (r *Registry) named(full string) (*Type, *EnumType, bool) {
	if r == nil {
		return nil, nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[full]; ok {
		return t, nil, true
	}
	if e, ok := r.enums[full]; ok {
		return nil, e, true
	}
	return nil, nil, false
}

// LoadAvro parses one .avsc document, resolving named references against
// types already in the registry, and registers the result.
func (r *Registry) LoadAvro(data []byte) ([]*Type, error) {
	p := newParser()
	if err := p.parseDocument(data); err != nil {
		return nil, err
	}
	return r.commit(p)
}

// LoadDir reads every *.avsc file below dir. Files may reference each other in
// any order; references are resolved after all files have been read.
func (r *Registry) LoadDir(dir string) ([]*Type, error) {
	p := newParser()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".avsc") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := p.parseDocument(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("schema: load %s: %w", dir, err)
	}
	return r.commit(p)
}

func (r *Registry) commit(p *parser) ([]*Type, error) {
	if err := p.link(r); err != nil {
		return nil, err
	}
	if err := r.Register(p.order...); err != nil {
		return nil, err
	}
	return p.order, nil
}
