package codec_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/drifthq/drift/pkg/codec"
)

type widget struct {
	Name     string            `drift:"name"`
	Tags     []string          `drift:"tags"`
	Attrs    map[string]string `drift:"attrs"`
	Note     *string           `drift:"note,omitempty"`
	Created  time.Time         `drift:"created"`
	internal string            // unexported: must never reach the encoded form
}

func (w widget) Type() string { return "test.widget" }

func registryWithWidget() *codec.Registry {
	reg := codec.NewRegistry()
	reg.Register("test.widget", widget{})
	reg.RegisterCodec(time.Time{}, codec.Codec{
		Encode: func(v any) (any, error) { return v.(time.Time).Format(time.RFC3339), nil },
		Decode: func(raw any) (any, error) { return time.Parse(time.RFC3339, raw.(string)) },
	})
	return reg
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	reg := registryWithWidget()
	note := "hello"
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w := widget{
		Name:    "w1",
		Tags:    []string{"a", "b"},
		Attrs:   map[string]string{"k": "v"},
		Note:    &note,
		Created: created,
	}

	raw, err := reg.Encode(w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if obj[".type"] != "test.widget" {
		t.Fatalf(".type = %v, want test.widget", obj[".type"])
	}
	if _, ok := obj["internal"]; ok {
		t.Fatalf("unexported field leaked into encoded form: %v", obj)
	}

	decoded, err := reg.Decode(raw, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*widget)
	if !ok {
		t.Fatalf("decoded type = %T, want *widget", decoded)
	}
	if got.Name != "w1" || len(got.Tags) != 2 || got.Attrs["k"] != "v" {
		t.Fatalf("decoded = %+v", got)
	}
	if got.Note == nil || *got.Note != "hello" {
		t.Fatalf("Note = %v, want hello", got.Note)
	}
	if !got.Created.Equal(created) {
		t.Fatalf("Created = %v, want %v", got.Created, created)
	}
}

func TestDecodeOptionalFieldAbsent(t *testing.T) {
	reg := registryWithWidget()
	raw := json.RawMessage(`{".type":"test.widget","name":"w2","tags":[],"attrs":{},"created":"2026-01-02T03:04:05Z"}`)
	decoded, err := reg.Decode(raw, nil)
	if err != nil {
		t.Fatalf("Decode with absent optional field: %v", err)
	}
	got := decoded.(*widget)
	if got.Note != nil {
		t.Fatalf("Note = %v, want nil", got.Note)
	}
}

func TestDecodeRequiredFieldAbsentErrors(t *testing.T) {
	reg := registryWithWidget()
	raw := json.RawMessage(`{".type":"test.widget","tags":[],"attrs":{},"created":"2026-01-02T03:04:05Z"}`)
	if _, err := reg.Decode(raw, nil); err == nil {
		t.Fatal("expected an error for a missing required field")
	}
}

func TestDecodeUnresolvedTypeTag(t *testing.T) {
	reg := registryWithWidget()
	raw := json.RawMessage(`{".type":"test.unknown"}`)
	_, err := reg.Decode(raw, nil)
	var unresolved *codec.UnresolvedTypeError
	if err == nil {
		t.Fatal("expected an UnresolvedTypeError")
	}
	if e, ok := err.(*codec.UnresolvedTypeError); !ok || e.Tag != "test.unknown" {
		t.Fatalf("err = %v (%T), want *UnresolvedTypeError{Tag: test.unknown}", err, err)
	}
	_ = unresolved
}

func TestFieldMapperInterceptsField(t *testing.T) {
	reg := registryWithWidget()
	raw := json.RawMessage(`{".type":"test.widget","name":"mapped","tags":[],"attrs":{},"created":"2026-01-02T03:04:05Z"}`)

	called := false
	mapper := func(fieldName string, fieldRaw json.RawMessage) (any, bool, error) {
		if fieldName == "name" {
			called = true
			return "overridden", true, nil
		}
		return nil, false, nil
	}

	decoded, err := reg.Decode(raw, mapper)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !called {
		t.Fatal("mapper was never invoked for the intercepted field")
	}
	if decoded.(*widget).Name != "overridden" {
		t.Fatalf("Name = %q, want overridden", decoded.(*widget).Name)
	}
}

type cyclic struct {
	Self *cyclic `drift:"self"`
}

func (c cyclic) Type() string { return "test.cyclic" }

func TestEncodeCycleDetection(t *testing.T) {
	reg := codec.NewRegistry()
	reg.Register("test.cyclic", cyclic{})

	a := &cyclic{}
	a.Self = a

	if _, err := reg.Encode(a); err == nil {
		t.Fatal("expected a cycle-detection error")
	}
}
