package commandstructure

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type mockCommand struct {
	name        string
	executeFunc func([]byte) ([]byte, error)
}

func (m *mockCommand) Name() string { return m.name }

func (m *mockCommand) Execute(data []byte) ([]byte, error) {
	return m.executeFunc(data)
}

func appendCommand(name string) *mockCommand {
	return &mockCommand{name: name, executeFunc: func(data []byte) ([]byte, error) {
		return append(append([]byte{}, data...), []byte("-"+name)...), nil
	}}
}

func failingCommand(name string, err error) *mockCommand {
	return &mockCommand{name: name, executeFunc: func([]byte) ([]byte, error) { return nil, err }}
}

func testRegistry(t *testing.T) *CommandRegistry {
	t.Helper()
	r := NewCommandRegistry()
	if err := r.Register("Tag", func(params map[string]any) (Command, error) {
		if err := ValidateRequiredParams(params, []string{"label"}); err != nil {
			return nil, err
		}
		return appendCommand(GetStringParam(params, "label", "")), nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func TestCommandRegistry_Register(t *testing.T) {
	r := testRegistry(t)
	factory := func(map[string]any) (Command, error) { return appendCommand("x"), nil }

	if err := r.Register("Tag", factory); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if err := r.Register("", factory); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register("Nil", nil); err == nil {
		t.Error("expected error for nil factory")
	}
	if err := r.Register("Another", factory); err != nil {
		t.Errorf("Register() error = %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"Another", "Tag"}) {
		t.Errorf("Names() = %v", got)
	}
	if !r.IsRegistered("Tag") || r.IsRegistered("Missing") {
		t.Error("IsRegistered() mismatch")
	}
}

func TestBuild(t *testing.T) {
	r := testRegistry(t)

	invoker, err := Build(r, []CommandConfig{
		{Name: "Tag", Params: map[string]any{"label": "a"}},
		{Name: "Tag", Params: map[string]any{"label": "b"}},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	out, err := invoker.Execute([]byte("start"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(out) != "start-a-b" {
		t.Errorf("Execute() = %q", out)
	}

	if _, err := Build(r, []CommandConfig{{Name: "Unknown"}}); err == nil {
		t.Error("expected error for unknown command")
	}
	if _, err := Build(r, []CommandConfig{{Name: "Tag"}}); err == nil {
		t.Error("expected error for missing parameter")
	}
}

func TestCommandInvoker_Empty(t *testing.T) {
	out, err := NewCommandInvoker(nil).Execute([]byte("same"))
	if err != nil || string(out) != "same" {
		t.Errorf("Execute() = %q, %v", out, err)
	}
}

func TestCommandInvoker_ErrorStopsChain(t *testing.T) {
	ran := false
	last := &mockCommand{name: "Last", executeFunc: func(d []byte) ([]byte, error) {
		ran = true
		return d, nil
	}}
	boom := errors.New("boom")
	invoker := NewCommandInvoker([]Command{appendCommand("first"), failingCommand("Broken", boom), last})

	_, err := invoker.Execute([]byte("x"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "Broken") {
		t.Errorf("error should name the command: %v", err)
	}
	if ran {
		t.Error("commands after a failure must not run")
	}
}

func TestExecuteCommands_UsesDefaultRegistry(t *testing.T) {
	original := DefaultRegistry
	DefaultRegistry = testRegistry(t)
	defer func() { DefaultRegistry = original }()

	out, err := ExecuteCommands([]byte("img"), []CommandConfig{{Name: "Tag", Params: map[string]any{"label": "z"}}})
	if err != nil || string(out) != "img-z" {
		t.Errorf("ExecuteCommands() = %q, %v", out, err)
	}
}

func TestParams(t *testing.T) {
	params := map[string]any{
		"s":      "text",
		"i":      12,
		"i64":    int64(34),
		"f":      2.5,
		"b":      true,
		"bs":     "Yes",
		"bad":    "maybe",
		"number": 7,
	}

	if got := GetStringParam(params, "s", "d"); got != "text" {
		t.Errorf("GetStringParam = %q", got)
	}
	if got := GetStringParam(params, "i", "d"); got != "d" {
		t.Errorf("GetStringParam non-string = %q", got)
	}
	if got := GetIntParam(params, "i64", 0); got != 34 {
		t.Errorf("GetIntParam int64 = %d", got)
	}
	if got := GetIntParam(params, "f", 0); got != 2 {
		t.Errorf("GetIntParam float = %d", got)
	}
	if got := GetFloatParam(params, "number", 0); got != 7 {
		t.Errorf("GetFloatParam int = %v", got)
	}
	if got := GetFloatParam(params, "missing", 1.5); got != 1.5 {
		t.Errorf("GetFloatParam default = %v", got)
	}
	if !GetBoolParam(params, "b", false) || !GetBoolParam(params, "bs", false) {
		t.Error("GetBoolParam truthy values")
	}
	if GetBoolParam(params, "bad", false) {
		t.Error("GetBoolParam should fall back to default")
	}
	if err := ValidateRequiredParams(params, []string{"s", "missing"}); err == nil {
		t.Error("expected missing parameter error")
	}
}
