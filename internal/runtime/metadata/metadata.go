package metadata

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Reserved metadata keys stamped on every emission.
const (
	// KeyMessageKey carries the encoded message key. Transports that support
	// keys (Kafka) use it as the record key.
	KeyMessageKey = "kem_key"
	// KeyTimestamp is the emission wall-clock time in Unix milliseconds.
	KeyTimestamp = "kem_timestamp"
	// KeyOperationID names the producer operation that emitted the message.
	KeyOperationID = "kem_operation_id"
	// KeySchema is the full name of the payload schema type.
	KeySchema = "kem_schema"
	// KeyValueSerializer names the payload encoding (avro, json, protobuf).
	KeyValueSerializer = "kem_value_serializer"
	// KeyTrigger is "startup" or "event".
	KeyTrigger = "kem_trigger"
	// KeyCorrelationID links a triggered emission to the consumed message.
	KeyCorrelationID = "correlation_id"
)

// Metadata represents the headers carried alongside an emission.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// WithTimestamp returns a clone stamped with t under KeyTimestamp.
func (m Metadata) WithTimestamp(t time.Time) Metadata {
	return m.With(KeyTimestamp, strconv.FormatInt(t.UnixMilli(), 10))
}

// Timestamp reads KeyTimestamp back.
func (m Metadata) Timestamp() (time.Time, bool) {
	raw, ok := m[KeyTimestamp]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		wm[k] = v
	}
	return wm
}
