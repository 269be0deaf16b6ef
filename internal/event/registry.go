package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Notifier is the push-notification collaborator seen by Execute.
// Implementations live outside this package; failures are logged by the
// dispatch caller and never retried here.
type Notifier interface {
	Send(ctx context.Context, userID, rendered string, payload map[string]any) error
}

// Handler is the per-type behavior set selected by a Definition's type tag.
type Handler struct {
	// ExtraFields names the type-specific keys that are packed into the
	// generic ExtraFields envelope on serialize and pulled back out on load.
	ExtraFields []string

	// Execute performs the dispatch side effect for one due occurrence
	// (e.g. render + send a notification). Recoverable failures are
	// returned as errors; the dispatch loop logs and skips them.
	Execute func(ctx context.Context, def Definition, n Notifier) error
}

// Registry maps a type tag to its Handler.
//
// It is an explicit value owned by the application: populated once during
// startup via Register, read-mostly afterwards. Clear exists for test
// isolation only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a tag to a handler. Registration must happen during
// startup, before any Load or Resolve.
func (r *Registry) Register(tag string, h Handler) error {
	if tag == "" {
		return fmt.Errorf("registry: empty type tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[tag]; dup {
		return fmt.Errorf("registry: type %q already registered", tag)
	}
	r.handlers[tag] = h
	return nil
}

// Resolve returns the handler for tag, or ErrUnregisteredType.
func (r *Registry) Resolve(tag string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[tag]
	r.mu.RUnlock()
	if !ok {
		return Handler{}, fmt.Errorf("%w: %q", ErrUnregisteredType, tag)
	}
	return h, nil
}

// Tags lists registered type tags, sorted for stable output.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for tag := range r.handlers {
		out = append(out, tag)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Clear removes all registrations. Test isolation only.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = map[string]Handler{}
	r.mu.Unlock()
}

// Load decodes a raw document into a Definition for the given tag.
// Keys declared by the handler's ExtraFields that appear at the top level
// of the document are moved into the ExtraFields envelope.
func (r *Registry) Load(tag string, doc map[string]any) (Definition, error) {
	h, err := r.Resolve(tag)
	if err != nil {
		return Definition{}, err
	}

	// Split declared extra-field keys out of the flat document.
	extras := map[string]any{}
	if nested, ok := doc["extraFields"].(map[string]any); ok {
		for k, v := range nested {
			extras[k] = v
		}
	}
	flat := make(map[string]any, len(doc))
	for k, v := range doc {
		flat[k] = v
	}
	delete(flat, "extraFields")
	for _, name := range h.ExtraFields {
		if v, ok := flat[name]; ok {
			extras[name] = v
			delete(flat, name)
		}
	}

	b, err := json.Marshal(flat)
	if err != nil {
		return Definition{}, fmt.Errorf("registry: encode %q document: %w", tag, err)
	}
	var def Definition
	if err := json.Unmarshal(b, &def); err != nil {
		return Definition{}, fmt.Errorf("registry: decode %q document: %w", tag, err)
	}
	def.Type = tag
	if len(extras) > 0 {
		def.ExtraFields = extras
	}
	return def, nil
}

// Dump flattens a Definition back into a storage document, folding the
// ExtraFields envelope into the top level.
func (r *Registry) Dump(def Definition) (map[string]any, error) {
	if _, err := r.Resolve(def.Type); err != nil {
		return nil, err
	}
	extras := def.ExtraFields
	def.ExtraFields = nil

	b, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("registry: encode %q definition: %w", def.Type, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("registry: decode %q definition: %w", def.Type, err)
	}
	for k, v := range extras {
		doc[k] = v
	}
	return doc, nil
}
