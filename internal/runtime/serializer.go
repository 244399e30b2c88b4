package runtime

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/jsoncodec"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/internal/runtime/schema"
)

// EncodeKey renders a producer key with the named key serializer. A long key
// is eight big-endian bytes; a json key is the JSON encoding of the literal,
// parsed as a number or boolean when it looks like one.
func EncodeKey(serializer, key string) ([]byte, error) {
	name, ok := operations.NormalizeKeySerializer(serializer)
	if !ok {
		return nil, fmt.Errorf("%w: key serializer %q", errspkg.ErrUnsupportedSerializer, serializer)
	}

	switch name {
	case operations.KeyLong:
		n, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, &errspkg.CoercionError{Field: "key", Target: "long", Value: key, Err: err}
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(n))
		return out, nil
	case operations.KeyJSON:
		return jsoncodec.Marshal(jsonLiteral(key))
	default:
		return []byte(key), nil
	}
}

func jsonLiteral(key string) any {
	trimmed := strings.TrimSpace(key)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(trimmed); err == nil {
		return b
	}
	return key
}

// ValueEncoder turns a materialized record into a message payload.
type ValueEncoder interface {
	Encode(rec *schema.Record) ([]byte, error)
}

// ValueEncoderFunc adapts a function to ValueEncoder.
type ValueEncoderFunc func(rec *schema.Record) ([]byte, error)

func (f ValueEncoderFunc) Encode(rec *schema.Record) ([]byte, error) { return f(rec) }

// NewValueEncoder returns the encoder for a value serializer name. Avro
// encoding needs the registry to build the codec of the record type.
func NewValueEncoder(serializer string, registry *schema.Registry) (ValueEncoder, error) {
	name, ok := operations.NormalizeValueSerializer(serializer)
	if !ok {
		return nil, fmt.Errorf("%w: value serializer %q", errspkg.ErrUnsupportedSerializer, serializer)
	}

	switch name {
	case operations.ValueJSON:
		return ValueEncoderFunc(encodeJSON), nil
	case operations.ValueProtobuf:
		return ValueEncoderFunc(encodeProtobuf), nil
	default:
		if registry == nil {
			return nil, errspkg.ErrSchemaRegistryRequired
		}
		return ValueEncoderFunc(func(rec *schema.Record) ([]byte, error) {
			return encodeAvro(registry, rec)
		}), nil
	}
}

func encodeAvro(registry *schema.Registry, rec *schema.Record) ([]byte, error) {
	codec, err := registry.Codec(rec.Type())
	if err != nil {
		return nil, err
	}
	out, err := codec.BinaryFromNative(nil, rec.Native())
	if err != nil {
		return nil, fmt.Errorf("avro encode %s: %w", rec.Type().FullName(), err)
	}
	return out, nil
}

func encodeJSON(rec *schema.Record) ([]byte, error) {
	return jsoncodec.Marshal(rec.Plain())
}

// encodeProtobuf writes the record as a google.protobuf.Struct.
func encodeProtobuf(rec *schema.Record) ([]byte, error) {
	st, err := structpb.NewStruct(protoSafe(rec.Plain()).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("protobuf encode %s: %w", rec.Type().FullName(), err)
	}
	return proto.Marshal(st)
}

// protoSafe converts values structpb.NewValue rejects. Bytes become strings
// so they survive as text rather than base64.
func protoSafe(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = protoSafe(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = protoSafe(e)
		}
		return out
	case []byte:
		return string(t)
	default:
		return v
	}
}
