package operations

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/materialize"
	"github.com/kemock/kem/internal/runtime/schema"
)

func producer(id string) *ProducerOperation {
	return &ProducerOperation{
		Operation:     Operation{OperationID: id, Topic: "users"},
		KeySerializer: "string",
		Record: &RecordSpec{
			Namespace: "com.acme",
			Name:      "User",
			Value:     map[string]any{"id": "1"},
		},
	}
}

func configErrors(t *testing.T, err error) []*errspkg.ConfigError {
	t.Helper()
	var out []*errspkg.ConfigError
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ce *errspkg.ConfigError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	walk(err)
	return out
}

func TestProducerValidateAcceptsCompleteDefinition(t *testing.T) {
	require.NoError(t, producer("p1").Validate())

	withRef := producer("p2")
	withRef.Record.Value = nil
	withRef.Record.Ref = "user"
	require.NoError(t, withRef.Validate())

	legacy := producer("p3")
	legacy.Record = nil
	legacy.Properties = &PropertiesSpec{Namespace: "com.acme", Name: "User", Values: map[string]any{"id": "1"}}
	require.NoError(t, legacy.Validate())
	assert.True(t, legacy.Legacy())
}

func TestProducerValidateReportsEveryMissingField(t *testing.T) {
	p := &ProducerOperation{Operation: Operation{OperationID: "p1"}, Record: &RecordSpec{}}
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrMissingRequiredField)

	fields := map[string]bool{}
	for _, ce := range configErrors(t, err) {
		assert.Equal(t, "p1", ce.OperationID)
		fields[ce.Field] = true
	}
	for _, want := range []string{"topic", "keySerializer", "record.namespace", "record.name", "record.value"} {
		assert.True(t, fields[want], "missing report for %s", want)
	}
}

func TestProducerValidateRejectsBadValues(t *testing.T) {
	p := producer("p1")
	p.DelayMs = -1
	p.KeySerializer = "xml"
	p.ValueSerializer = "thrift"
	p.Properties = &PropertiesSpec{Namespace: "a", Name: "b"}

	err := p.Validate()
	assert.ErrorIs(t, err, errspkg.ErrInvalidField)
	assert.Len(t, configErrors(t, err), 4)
}

func TestNormalizeSerializers(t *testing.T) {
	key, ok := NormalizeKeySerializer("org.apache.kafka.common.serialization.StringSerializer")
	require.True(t, ok)
	assert.Equal(t, KeyString, key)

	key, ok = NormalizeKeySerializer("LONG")
	require.True(t, ok)
	assert.Equal(t, KeyLong, key)

	value, ok := NormalizeValueSerializer("")
	require.True(t, ok)
	assert.Equal(t, ValueAvro, value)

	_, ok = NormalizeValueSerializer("xml")
	assert.False(t, ok)
}

func TestConsumerNormalizeKeepsFirstOccurrence(t *testing.T) {
	c := &ConsumerOperation{
		Operation:          Operation{OperationID: "c1", Topic: "t"},
		LaunchOperationIDs: []string{"b", "a", "b", "c", "a"},
	}
	require.NoError(t, c.Validate())
	c.Normalize()
	assert.Equal(t, []string{"b", "a", "c"}, c.LaunchOperationIDs)
}

func TestConsumerValidateRejectsBlankLaunchID(t *testing.T) {
	c := &ConsumerOperation{
		Operation:          Operation{OperationID: "c1", Topic: "t"},
		LaunchOperationIDs: []string{"ok", " "},
	}
	err := c.Validate()
	require.ErrorIs(t, err, errspkg.ErrMissingRequiredField)
	assert.Equal(t, "launchOperationIds[1]", configErrors(t, err)[0].Field)
}

func TestResolveRefsMissingFragmentFails(t *testing.T) {
	p := producer("p1")
	p.Record.Value = nil
	p.Record.Ref = "nowhere"
	defs := &Definitions{Producers: []*ProducerOperation{p}}

	err := defs.ResolveRefs(DirRefLoader{Dir: t.TempDir()})
	require.ErrorIs(t, err, errspkg.ErrUnresolvedRef)

	ces := configErrors(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "p1", ces[0].OperationID)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestResolveRefsMatchesInlineMaterialization(t *testing.T) {
	inner := schema.NewType("com.acme", "Address", schema.Field{Name: "city", Type: schema.Scalar(schema.ScalarString)})
	user := schema.NewType("com.acme", "User",
		schema.Field{Name: "id", Type: schema.Scalar(schema.ScalarLong)},
		schema.Field{Name: "address", Type: schema.RecordOf(inner)},
		schema.Field{Name: "tags", Type: schema.SequenceOf(schema.Scalar(schema.ScalarString))},
	)
	fragment := map[string]any{
		"id":      "42",
		"address": map[string]any{"city": "Madrid"},
		"tags":    []any{"a", "b"},
	}

	inline := producer("inline")
	inline.Record.Value = fragment

	byRef := producer("byRef")
	byRef.Record.Value = nil
	byRef.Record.Ref = "user"

	defs := &Definitions{
		Producers: []*ProducerOperation{inline, byRef},
		Refs:      map[string]any{"user": fragment},
	}
	require.NoError(t, defs.ResolveRefs(nil))

	want, err := materialize.Map(user, inline.Record.Value)
	require.NoError(t, err)
	got, err := materialize.Map(user, byRef.Record.Value)
	require.NoError(t, err)
	assert.Equal(t, want.Plain(), got.Plain())

	// The substituted value is a copy, not the shared fragment.
	byRef.Record.Value["address"].(map[string]any)["city"] = "Bilbao"
	assert.Equal(t, "Madrid", fragment["address"].(map[string]any)["city"])
}

func TestResolveRefsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fromjson.json"), []byte(`{"id": 7}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fromyaml.yaml"), []byte("id: 8\n"), 0o600))

	a := producer("a")
	a.Record.Ref = "fromjson"
	b := producer("b")
	b.Record.Ref = "fromyaml"
	defs := &Definitions{Producers: []*ProducerOperation{a, b}}

	require.NoError(t, defs.ResolveRefs(DirRefLoader{Dir: dir}))
	assert.Equal(t, "7", a.Record.Value["id"].(interface{ String() string }).String())
	assert.Equal(t, 8, b.Record.Value["id"])
}

func TestDirRefLoaderRejectsPathTraversal(t *testing.T) {
	_, _, err := DirRefLoader{Dir: t.TempDir()}.LoadRef("../secrets")
	assert.Error(t, err)
}
