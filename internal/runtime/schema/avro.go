package schema

import (
	"fmt"

	"github.com/kemock/kem/internal/runtime/jsoncodec"
)

type avroRecord struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace,omitempty"`
	Doc       string      `json:"doc,omitempty"`
	Fields    []avroField `json:"fields"`
}

type avroField struct {
	Name    string `json:"name"`
	Type    any    `json:"type"`
	Doc     string `json:"doc,omitempty"`
	Default any    `json:"default,omitempty"`
}

type avroEnum struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Namespace string   `json:"namespace,omitempty"`
	Symbols   []string `json:"symbols"`
}

type avroContainer struct {
	Type   string `json:"type"`
	Items  any    `json:"items,omitempty"`
	Values any    `json:"values,omitempty"`
}

// AvroSchema renders t as an Avro schema document. Named types are defined on
// first use and referenced by full name afterwards.
func (t *Type) AvroSchema() (string, error) {
	defined := map[string]bool{}
	out, err := jsoncodec.Marshal(t.avroNode(defined))
	if err != nil {
		return "", fmt.Errorf("render avro schema for %s: %w", t.FullName(), err)
	}
	return string(out), nil
}

func (t *Type) avroNode(defined map[string]bool) any {
	name := t.FullName()
	if defined[name] {
		return name
	}
	defined[name] = true
	fields := make([]avroField, 0, len(t.Fields))
	for _, f := range t.Fields {
		af := avroField{Name: f.Name, Doc: f.Doc, Type: f.Type.avroNode(defined)}
		fields = append(fields, af)
	}
	return avroRecord{Type: "record", Name: t.Name, Namespace: t.Namespace, Doc: t.Doc, Fields: fields}
}

func (ft *FieldType) avroNode(defined map[string]bool) any {
	var node any
	switch ft.Kind {
	case KindScalar:
		node = ft.Scalar.String()
	case KindEnum:
		name := ft.Enum.FullName()
		if defined[name] {
			node = name
		} else {
			defined[name] = true
			node = avroEnum{Type: "enum", Name: ft.Enum.Name, Namespace: ft.Enum.Namespace, Symbols: ft.Enum.Symbols}
		}
	case KindMap:
		node = avroContainer{Type: "map", Values: ft.Elem.avroNode(defined)}
	case KindSequence:
		node = avroContainer{Type: "array", Items: ft.Elem.avroNode(defined)}
	case KindRecord:
		node = ft.Record.avroNode(defined)
	}
	if ft.Nullable {
		return []any{"null", node}
	}
	return node
}

// parser turns .avsc documents into Types. Named references are recorded and
// resolved by link once every document has been read.
type parser struct {
	records map[string]*Type
	enums   map[string]*EnumType
	order   []*Type
	pending []*FieldType
}

func newParser() *parser {
	return &parser{records: map[string]*Type{}, enums: map[string]*EnumType{}}
}

// ParseAvro parses a single self-contained .avsc document and returns the
// record types it defines.
func ParseAvro(data []byte) ([]*Type, error) {
	p := newParser()
	if err := p.parseDocument(data); err != nil {
		return nil, err
	}
	if err := p.link(nil); err != nil {
		return nil, err
	}
	return p.order, nil
}

func (p *parser) parseDocument(data []byte) error {
	var node any
	if err := jsoncodec.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("decode avro schema: %w", err)
	}
	// A top-level array is a list of named definitions.
	if list, ok := node.([]any); ok {
		for _, item := range list {
			if _, err := p.typeFrom(item, ""); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := p.typeFrom(node, "")
	return err
}

func (p *parser) typeFrom(node any, namespace string) (*FieldType, error) {
	switch n := node.(type) {
	case string:
		if s, ok := ParseScalar(n); ok {
			return Scalar(s), nil
		}
		if n == "null" {
			return nil, fmt.Errorf("avro: bare null type is not supported")
		}
		ft := &FieldType{Kind: KindRecord, ref: fullName(namespace, n)}
		p.pending = append(p.pending, ft)
		return ft, nil
	case []any:
		return p.unionFrom(n, namespace)
	case map[string]any:
		return p.complexFrom(n, namespace)
	default:
		return nil, fmt.Errorf("avro: unexpected schema node %T", node)
	}
}

// unionFrom accepts only the optional-value form ["null", T] or [T, "null"].
func (p *parser) unionFrom(branches []any, namespace string) (*FieldType, error) {
	var other []any
	hasNull := false
	for _, b := range branches {
		if s, ok := b.(string); ok && s == "null" {
			hasNull = true
			continue
		}
		other = append(other, b)
	}
	if !hasNull || len(other) != 1 {
		return nil, fmt.Errorf("avro: only [\"null\", T] unions are supported, got %d branches", len(branches))
	}
	ft, err := p.typeFrom(other[0], namespace)
	if err != nil {
		return nil, err
	}
	ft.Nullable = true
	return ft, nil
}

func (p *parser) complexFrom(n map[string]any, namespace string) (*FieldType, error) {
	kind, _ := n["type"].(string)
	switch kind {
	case "record", "error":
		t, err := p.recordFrom(n, namespace)
		if err != nil {
			return nil, err
		}
		return RecordOf(t), nil
	case "enum":
		e, err := p.enumFrom(n, namespace)
		if err != nil {
			return nil, err
		}
		return Enum(e), nil
	case "array":
		elem, err := p.typeFrom(n["items"], namespace)
		if err != nil {
			return nil, err
		}
		return SequenceOf(elem), nil
	case "map":
		elem, err := p.typeFrom(n["values"], namespace)
		if err != nil {
			return nil, err
		}
		return MapOf(elem), nil
	case "fixed":
		name, _ := n["name"].(string)
		return nil, fmt.Errorf("avro: fixed type %q is not supported, use bytes", name)
	case "":
		// {"type": ["null", "string"]} and {"type": {...}} wrap another node.
		return p.typeFrom(n["type"], namespace)
	default:
		// Primitive with attributes, e.g. {"type": "long", "logicalType": "timestamp-millis"}.
		if s, ok := ParseScalar(kind); ok {
			return Scalar(s), nil
		}
		return p.typeFrom(kind, namespace)
	}
}

func (p *parser) recordFrom(n map[string]any, namespace string) (*Type, error) {
	name, _ := n["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("avro: record without a name")
	}
	ns := namespace
	if v, ok := n["namespace"].(string); ok {
		ns = v
	}
	full := fullName(ns, name)
	ns, name = splitFullName(full)
	if _, exists := p.records[full]; exists {
		return nil, fmt.Errorf("avro: record %s defined twice", full)
	}

	t := &Type{Namespace: ns, Name: name}
	t.Doc, _ = n["doc"].(string)
	// Register before walking fields so self references resolve.
	p.records[full] = t
	p.order = append(p.order, t)

	rawFields, _ := n["fields"].([]any)
	for _, raw := range rawFields {
		fm, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("avro: record %s has a malformed field", full)
		}
		fname, _ := fm["name"].(string)
		if fname == "" {
			return nil, fmt.Errorf("avro: record %s has a field without a name", full)
		}
		ft, err := p.typeFrom(fm["type"], ns)
		if err != nil {
			return nil, fmt.Errorf("avro: %s.%s: %w", full, fname, err)
		}
		f := Field{Name: fname, Type: ft}
		f.Doc, _ = fm["doc"].(string)
		f.Reserved, _ = fm["kem.reserved"].(bool)
		t.Fields = append(t.Fields, f)
	}
	t.reindex()
	return t, nil
}

func (p *parser) enumFrom(n map[string]any, namespace string) (*EnumType, error) {
	name, _ := n["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("avro: enum without a name")
	}
	ns := namespace
	if v, ok := n["namespace"].(string); ok {
		ns = v
	}
	full := fullName(ns, name)
	ns, name = splitFullName(full)
	e := &EnumType{Namespace: ns, Name: name}
	raw, _ := n["symbols"].([]any)
	for _, s := range raw {
		sym, ok := s.(string)
		if !ok {
			return nil, fmt.Errorf("avro: enum %s has a non-string symbol", full)
		}
		e.Symbols = append(e.Symbols, sym)
	}
	p.enums[full] = e
	return e, nil
}

// link resolves every pending named reference against the parsed documents,
// then against fallback (types registered earlier).
func (p *parser) link(fallback *Registry) error {
	for _, ft := range p.pending {
		if t, ok := p.records[ft.ref]; ok {
			ft.Kind, ft.Record = KindRecord, t
		} else if e, ok := p.enums[ft.ref]; ok {
			ft.Kind, ft.Enum = KindEnum, e
		} else if t, e, ok := fallback.named(ft.ref); ok {
			if t != nil {
				ft.Kind, ft.Record = KindRecord, t
			} else {
				ft.Kind, ft.Enum = KindEnum, e
			}
		} else {
			return fmt.Errorf("avro: named type %q is not defined", ft.ref)
		}
		ft.ref = ""
	}
	p.pending = nil
	return nil
}
