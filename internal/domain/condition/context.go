package condition

import "strings"

// Field namespaces resolvable by a condition context.
const (
	NamespaceForm      = "form"
	NamespaceEntity    = "entity"
	NamespaceInitiator = "initiator"
	NamespaceSys       = "sys"
)

// Context carries the data a condition field path resolves against:
// submitted form data, the business entity snapshot, submitter attributes and
// engine-supplied variables.
type Context struct {
	Form      map[string]interface{}
	Entity    map[string]interface{}
	Initiator map[string]interface{}
	Sys       map[string]interface{}
}

// NewContext returns a context with all namespaces allocated.
func NewContext() *Context {
	return &Context{
		Form:      make(map[string]interface{}),
		Entity:    make(map[string]interface{}),
		Initiator: make(map[string]interface{}),
		Sys:       make(map[string]interface{}),
	}
}

// Resolve looks up a namespaced field path like "form.amount". The second
// return reports whether the field exists with a non-nil value.
func (c *Context) Resolve(field string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	ns, rest, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}

	var m map[string]interface{}
	switch ns {
	case NamespaceForm:
		m = c.Form
	case NamespaceEntity:
		m = c.Entity
	case NamespaceInitiator:
		m = c.Initiator
	case NamespaceSys:
		m = c.Sys
	default:
		return nil, false
	}
	if m == nil {
		return nil, false
	}

	// Walk nested maps for dotted paths like "form.vendor.country"
	parts := strings.Split(rest, ".")
	var cur interface{} = m
	for _, part := range parts {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Env flattens the context into the namespace map layout the expression
// engine expects ({"form": {...}, "entity": {...}, ...}).
func (c *Context) Env() map[string]interface{} {
	env := map[string]interface{}{
		NamespaceForm:      map[string]interface{}{},
		NamespaceEntity:    map[string]interface{}{},
		NamespaceInitiator: map[string]interface{}{},
		NamespaceSys:       map[string]interface{}{},
	}
	if c == nil {
		return env
	}
	if c.Form != nil {
		env[NamespaceForm] = c.Form
	}
	if c.Entity != nil {
		env[NamespaceEntity] = c.Entity
	}
	if c.Initiator != nil {
		env[NamespaceInitiator] = c.Initiator
	}
	if c.Sys != nil {
		env[NamespaceSys] = c.Sys
	}
	return env
}
