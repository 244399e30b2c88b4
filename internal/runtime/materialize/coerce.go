package materialize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/schema"
)

// Coerce casts a raw configuration value to the Go representation of target.
//
// Strings are parsed, floating point values narrowed to integer targets are
// truncated, and numbers or booleans are formatted when the target is a
// string. Out of range values fail.
func Coerce(field string, target schema.ScalarType, v any) (any, error) {
	fail := func(err error) error {
		return &errspkg.CoercionError{Field: field, Target: target.String(), Value: v, Err: err}
	}

	switch target {
	case schema.ScalarString:
		s, ok := formatScalar(v)
		if !ok {
			return nil, fail(nil)
		}
		return s, nil

	case schema.ScalarInt, schema.ScalarLong:
		bits := 64
		if target == schema.ScalarInt {
			bits = 32
		}
		n, err := toInt(v, bits)
		if err != nil {
			return nil, fail(err)
		}
		if bits == 32 {
			return int32(n), nil
		}
		return n, nil

	case schema.ScalarFloat, schema.ScalarDouble:
		bits := 64
		if target == schema.ScalarFloat {
			bits = 32
		}
		f, err := toFloat(v, bits)
		if err != nil {
			return nil, fail(err)
		}
		if bits == 32 {
			return float32(f), nil
		}
		return f, nil

	case schema.ScalarBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fail(err)
			}
			return parsed, nil
		}
		return nil, fail(nil)

	case schema.ScalarBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fail(nil)
	}
	return nil, fail(fmt.Errorf("unsupported scalar type"))
}

func formatScalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case json.Number:
		return s.String(), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case []byte:
		return string(s), true
	}
	if n, ok := asInt64(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	if u, ok := v.(uint64); ok {
		return strconv.FormatUint(u, 10), true
	}
	return "", false
}

func toInt(v any, bits int) (int64, error) {
	var n int64
	switch val := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	case json.Number:
		if parsed, err := val.Int64(); err == nil {
			n = parsed
			break
		}
		f, err := val.Float64()
		if err != nil {
			return 0, err
		}
		return truncate(f, bits)
	case float32:
		return truncate(float64(val), bits)
	case float64:
		return truncate(val, bits)
	case uint64:
		if val > math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		n = int64(val)
	default:
		i, ok := asInt64(v)
		if !ok {
			return 0, fmt.Errorf("not a number")
		}
		n = i
	}
	if bits == 32 && (n < math.MinInt32 || n > math.MaxInt32) {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func truncate(f float64, bits int) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrRange
	}
	t := math.Trunc(f)
	lo, hi := float64(math.MinInt64), float64(math.MaxInt64)
	if bits == 32 {
		lo, hi = math.MinInt32, math.MaxInt32
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is itself out of range.
	if t < lo || t > hi || (bits == 64 && t == hi) {
		return 0, strconv.ErrRange
	}
	return int64(t), nil
}

func toFloat(v any, bits int) (float64, error) {
	var f float64
	switch val := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case float32:
		return float64(val), nil
	case float64:
		f = val
	case uint64:
		f = float64(val)
	default:
		i, ok := asInt64(v)
		if !ok {
			return 0, fmt.Errorf("not a number")
		}
		f = float64(i)
	}
	if bits == 32 && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
		return 0, strconv.ErrRange
	}
	return f, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
