package jsoncodec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type fragment struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalRoundTrip(t *testing.T) {
	in := fragment{ID: 42, Name: "user-default"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out fragment
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := fragment{ID: 7, Name: "stream"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded fragment
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}

func TestUnmarshalNumberKeepsIntegers(t *testing.T) {
	var out map[string]any
	if err := UnmarshalNumber([]byte(`{"id": 9007199254740993}`), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	n, ok := out["id"].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number, got %T", out["id"])
	}
	if n.String() != "9007199254740993" {
		t.Fatalf("expected exact digits, got %s", n)
	}
}

func TestMarshalStringFallsBackOnError(t *testing.T) {
	if got := MarshalString(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Fatalf("unexpected output %q", got)
	}
	if got := MarshalString(make(chan int)); !strings.HasPrefix(got, "<unencodable") {
		t.Fatalf("expected fallback marker, got %q", got)
	}
}
