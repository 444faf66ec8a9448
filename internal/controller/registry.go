package controller

import (
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ErrNotFound is returned for a node type with no implementation.
var ErrNotFound = errors.New("component not found")

// ValidationError reports props a component refused.
type ValidationError struct {
	Type   string
	Prop   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Prop == "" {
		return fmt.Sprintf("invalid props for %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid prop %q for %s: %s", e.Prop, e.Type, e.Reason)
}

// Registry is the closed set of component types the host renders.
type Registry struct {
	impls     map[string]Implementation
	sanitizer *bluemonday.Policy
}

// NewRegistry copies impls into an immutable registry.
func NewRegistry(impls map[string]Implementation) (*Registry, error) {
	r := &Registry{
		impls:     make(map[string]Implementation, len(impls)),
		sanitizer: bluemonday.StrictPolicy(),
	}
	for typ, impl := range impls {
		if typ == "" {
			return nil, errors.New("component type must not be empty")
		}
		if impl.Factory == nil {
			return nil, fmt.Errorf("component %s has no factory", typ)
		}
		schema := make(Schema, len(impl.Schema))
		for k, rule := range impl.Schema {
			schema[k] = rule
		}
		if impl.Schema == nil {
			schema = nil
		}
		impl.Schema = schema
		r.impls[typ] = impl
	}
	return r, nil
}

// Resolve returns the implementation for typ.
func (r *Registry) Resolve(typ string) (Implementation, error) {
	impl, ok := r.impls[typ]
	if !ok {
		return Implementation{}, fmt.Errorf("%w: %s", ErrNotFound, typ)
	}
	return impl, nil
}

// Types lists the registered types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.impls))
	for typ := range r.impls {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// ValidateProps checks props against typ's schema and returns a sanitised
// copy. The input is not modified.
func (r *Registry) ValidateProps(typ string, props map[string]any) (Props, error) {
	impl, err := r.Resolve(typ)
	if err != nil {
		return nil, err
	}

	out := make(Props, len(props))
	for key, value := range props {
		if err := checkSerializable(key, value); err != nil {
			return nil, &ValidationError{Type: typ, Prop: key, Reason: err.Error()}
		}
		if impl.Schema != nil {
			rule, known := impl.Schema[key]
			if !known {
				return nil, &ValidationError{Type: typ, Prop: key, Reason: "unknown prop"}
			}
			if err := rule.check(value); err != nil {
				return nil, &ValidationError{Type: typ, Prop: key, Reason: err.Error()}
			}
		}
		out[key] = r.sanitize(value)
	}

	for key, rule := range impl.Schema {
		if _, present := out[key]; rule.Required && !present {
			return nil, &ValidationError{Type: typ, Prop: key, Reason: "required"}
		}
	}

	if impl.Validate != nil {
		if err := impl.Validate(out); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				if verr.Type == "" {
					verr.Type = typ
				}
				return nil, verr
			}
			return nil, &ValidationError{Type: typ, Reason: err.Error()}
		}
	}
	return out, nil
}

func (rule PropRule) check(v any) error {
	if v == nil || rule.Kind == "" || rule.Kind == KindAny {
		return nil
	}
	kind, _ := kindOf(v)
	if kind != rule.Kind {
		return fmt.Errorf("expected %s, got %s", rule.Kind, kind)
	}
	return nil
}

// sanitize strips markup from every string inside v. Output escaping
// happens at render time, so entities are decoded back to text.
func (r *Registry) sanitize(v any) any {
	switch val := v.(type) {
	case string:
		if !strings.ContainsAny(val, "<>&") {
			return val
		}
		return html.UnescapeString(r.sanitizer.Sanitize(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.sanitize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.sanitize(item)
		}
		return out
	}
	return v
}
