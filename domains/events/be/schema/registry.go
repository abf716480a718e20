// Package schema holds the closed registry of event types and their payload schemas.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// IDPrefix prefixes every registered payload schema id.
const IDPrefix = "xentri://events/"

//go:embed schemas/*.json
var schemaFiles embed.FS

// ErrUnknownType is returned for event types outside the registry.
var ErrUnknownType = errors.New("unknown event type")

// FieldErrors maps payload paths (payload.email) to messages.
type FieldErrors map[string][]string

// Registry validates payloads against the compiled schema of their event type.
type Registry struct {
	schemas map[string]*jsonschema.Schema
	types   []string
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry compiled from the embedded schemas.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = NewRegistry()
	})
	return defaultRegistry, defaultErr
}

// NewRegistry compiles every embedded schema with format assertions enabled.
func NewRegistry() (*Registry, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	types := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		eventType := strings.TrimSuffix(entry.Name(), ".json")

		data, err := schemaFiles.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", eventType, err)
		}
		if err := compiler.AddResource(SchemaID(eventType), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("register schema %s: %w", eventType, err)
		}
		types = append(types, eventType)
	}

	registry := &Registry{schemas: make(map[string]*jsonschema.Schema, len(types))}
	for _, eventType := range types {
		compiled, err := compiler.Compile(SchemaID(eventType))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", eventType, err)
		}
		registry.schemas[eventType] = compiled
	}
	slices.Sort(types)
	registry.types = types

	return registry, nil
}

// SchemaID is the payload_schema value events of eventType must carry.
func SchemaID(eventType string) string {
	return IDPrefix + eventType
}

func (r *Registry) Known(eventType string) bool {
	_, ok := r.schemas[eventType]
	return ok
}

// Types lists registered event types in lexical order.
func (r *Registry) Types() []string {
	return slices.Clone(r.types)
}

// Validate checks payload against the schema of eventType. A non-nil FieldErrors means the
// payload is invalid; the error return is reserved for unknown types.
func (r *Registry) Validate(eventType string, payload json.RawMessage) (FieldErrors, error) {
	compiled, ok := r.schemas[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return FieldErrors{"payload": {"payload is required"}}, nil
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return FieldErrors{"payload": {"payload must be valid JSON"}}, nil
	}

	err := compiled.Validate(document)
	if err == nil {
		return nil, nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return FieldErrors{"payload": {err.Error()}}, nil
	}

	fields := FieldErrors{}
	collectLeafErrors(validationErr, fields)
	if len(fields) == 0 {
		fields["payload"] = []string{validationErr.Message}
	}
	return fields, nil
}

// ValidatePayload marshals a typed payload and validates it against its own schema.
func (r *Registry) ValidatePayload(p Payload) (json.RawMessage, FieldErrors, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	fields, err := r.Validate(p.EventType(), raw)
	return raw, fields, err
}

func collectLeafErrors(ve *jsonschema.ValidationError, fields FieldErrors) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectLeafErrors(cause, fields)
		}
		return
	}

	base := fieldPath(ve.InstanceLocation)
	if missing, ok := strings.CutPrefix(ve.Message, "missing properties: "); ok {
		for _, name := range strings.Split(missing, ", ") {
			name = strings.Trim(name, "'")
			fields[base+"."+name] = append(fields[base+"."+name], name+" is required")
		}
		return
	}
	fields[base] = append(fields[base], ve.Message)
}

// fieldPath turns a JSON pointer (/items/0/name) into payload.items.0.name.
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "payload"
	}
	parts := strings.Split(pointer, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return "payload." + strings.Join(parts, ".")
}
