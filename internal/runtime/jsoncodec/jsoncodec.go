package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalNumber decodes data keeping numbers as json.Number so integer
// literals in ref fragments and schema defaults survive without float rounding.
func UnmarshalNumber(data []byte, v any) error {
	return sonic.Config{UseNumber: true}.Froze().Unmarshal(data, v)
}

// MarshalString is Marshal for log fields; it never fails, falling back to
// the error text.
func MarshalString(v any) string {
	out, err := defaultConfig.MarshalToString(v)
	if err != nil {
		return "<unencodable: " + err.Error() + ">"
	}
	return out
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
