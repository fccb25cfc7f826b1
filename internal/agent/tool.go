// Package agent implements the tool-using turn loop that drives an LLM from
// a user message to a final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SideEffect classifies what a tool may do to the outside world.
type SideEffect string

const (
	SideEffectReadOnly    SideEffect = "read-only"
	SideEffectWrite       SideEffect = "write"
	SideEffectDestructive SideEffect = "destructive"
	SideEffectExternal    SideEffect = "external"
)

// ChatContext carries host-channel values into tool executions. Tools may
// read it but must not mutate shared state through it.
type ChatContext struct {
	AgentID    string
	SessionKey string
	PeerID     string
	Channel    string
	// RequireApproval marks this execution context as approval-gated for
	// destructive and external tools.
	RequireApproval bool
}

// ToolFunc is the tool implementation. The returned string becomes the
// ToolResult output; a returned error becomes success=false.
type ToolFunc func(ctx context.Context, args json.RawMessage, chat *ChatContext) (string, error)

// Tool is an opaque named capability. Immutable after registration.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON Schema for Args, validated on every call.
	Schema     json.RawMessage
	SideEffect SideEffect
	// Timeout bounds one execution; zero means the executor default.
	Timeout time.Duration
	Run     ToolFunc

	compiled *jsonschema.Schema
}

// Registry holds tools by name. Registration is write-once per name; lookups
// are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. It fails on duplicate names or an invalid schema.
func (r *Registry) Register(tool *Tool) error {
	if strings.TrimSpace(tool.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %q has no implementation", tool.Name)
	}
	if len(tool.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(tool.Name+".json", strings.NewReader(string(tool.Schema))); err != nil {
			return fmt.Errorf("tool %q schema: %w", tool.Name, err)
		}
		compiled, err := compiler.Compile(tool.Name + ".json")
		if err != nil {
			return fmt.Errorf("tool %q schema: %w", tool.Name, err)
		}
		tool.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns registered tools sorted by name. With readOnly set, only
// read-only tools are returned; plan mode uses this to hide mutating
// capabilities from the model.
func (r *Registry) List(readOnly bool) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if readOnly && t.SideEffect != SideEffectReadOnly {
			continue
		}
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// SchemasJSON serializes tool schemas for prompt-size estimation.
func SchemasJSON(tools []*Tool) string {
	type entry struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Schema      json.RawMessage `json:"parameters,omitempty"`
	}
	entries := make([]entry, len(tools))
	for i, t := range tools {
		entries[i] = entry{Name: t.Name, Description: t.Description, Schema: t.Schema}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(data)
}
