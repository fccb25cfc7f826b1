package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func noop(_ context.Context, _ json.RawMessage, _ *ChatContext) (string, error) {
	return "", nil
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: "a", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&Tool{Name: "a", Run: noop}); err == nil {
		t.Error("expected duplicate name error")
	}
	if err := r.Register(&Tool{Name: "", Run: noop}); err == nil {
		t.Error("expected empty name error")
	}
	if err := r.Register(&Tool{Name: "b"}); err == nil {
		t.Error("expected missing implementation error")
	}
	if err := r.Register(&Tool{Name: "c", Run: noop, Schema: json.RawMessage(`{"type":`)}); err == nil {
		t.Error("expected invalid schema error")
	}
}

func TestRegistryListFilters(t *testing.T) {
	r := NewRegistry()
	for _, tool := range []*Tool{
		{Name: "read", SideEffect: SideEffectReadOnly, Run: noop},
		{Name: "write", SideEffect: SideEffectWrite, Run: noop},
		{Name: "drop", SideEffect: SideEffectDestructive, Run: noop},
	} {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	all := r.List(false)
	if len(all) != 3 {
		t.Errorf("List(false) = %d tools, want 3", len(all))
	}
	// Sorted by name.
	if all[0].Name != "drop" || all[2].Name != "write" {
		t.Errorf("List order = %s..%s", all[0].Name, all[2].Name)
	}

	readOnly := r.List(true)
	if len(readOnly) != 1 || readOnly[0].Name != "read" {
		t.Errorf("List(true) = %+v", readOnly)
	}
}

func TestSchemasJSON(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{
		Name:        "echo",
		Description: "repeats input",
		Schema:      json.RawMessage(`{"type":"object"}`),
		Run:         noop,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	out := SchemasJSON(r.List(false))
	if !strings.Contains(out, `"echo"`) || !strings.Contains(out, `"repeats input"`) {
		t.Errorf("SchemasJSON = %s", out)
	}
}
