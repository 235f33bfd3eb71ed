// Package command holds the built-in command catalog: named operations with
// JSON-Schema validated parameters, dispatched by the scheduler alongside
// execute-kind requests.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Kind mirrors the scheduling lane a command belongs to.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// Handler is the function signature for built-in command execution. It runs
// on the drain goroutine, so mutating the host is safe.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Definition describes one built-in command.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Kind        Kind            `json:"kind"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Handler     Handler         `json:"-"`
}

// ValidationError reports a payload that failed schema validation. It maps
// to an {error: message} response without touching queue state.
type ValidationError struct {
	Command string
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Command, strings.Join(e.Reasons, "; "))
}

// Registry is the command catalog. Registration happens at startup;
// lookups and execution are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Definition
	schemas  map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Definition),
		schemas:  make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a command definition. A schema, when present, is compiled
// eagerly so a broken one fails at startup rather than on first dispatch.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("command name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("command %s has no handler", def.Name)
	}
	switch def.Kind {
	case KindRead, KindWrite:
	default:
		return fmt.Errorf("command %s has invalid kind %q", def.Name, def.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[def.Name]; exists {
		return fmt.Errorf("command already registered: %s", def.Name)
	}

	if len(def.Schema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.Schema))
		if err != nil {
			return fmt.Errorf("compiling schema for %s: %w", def.Name, err)
		}
		r.schemas[def.Name] = schema
	}

	r.commands[def.Name] = def
	log.Debug().Str("command", def.Name).Str("kind", string(def.Kind)).Msg("Command registered")
	return nil
}

// Get returns a command definition, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.commands))
	for _, def := range r.commands {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates params against the command's schema and runs its
// handler. Unknown commands and validation failures are ordinary errors;
// they never disturb the queue.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	def := r.commands[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		return nil, fmt.Errorf("unknown command: %s", name)
	}

	if schema != nil {
		if params == nil {
			params = map[string]interface{}{}
		}
		result, err := schema.Validate(gojsonschema.NewGoLoader(params))
		if err != nil {
			return nil, fmt.Errorf("validating parameters for %s: %w", name, err)
		}
		if !result.Valid() {
			verr := &ValidationError{Command: name}
			for _, desc := range result.Errors() {
				verr.Reasons = append(verr.Reasons, desc.String())
			}
			return nil, verr
		}
	}

	return def.Handler(ctx, params)
}
