package controller

// Props are validated, sanitised node props.
type Props map[string]any

// String returns props[key] when it is a string.
func (p Props) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns props[key] when it is a bool.
func (p Props) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Number returns props[key] as a float64.
func (p Props) Number(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

// Element is the markup an instance renders. Text is escaped on output.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Text     string
	Children []Element
	// Slot marks where the node's children go. Without a slot, children are
	// appended to the outermost element.
	Slot bool
}

// Instance is a mounted component. The renderer keeps one instance per node
// id for as long as the node exists.
type Instance interface {
	// Update receives the node's props after validation. It runs once after
	// creation and again whenever the props change.
	Update(props Props)
	// Render describes the instance's current markup.
	Render() Element
}

// EventHandler is implemented by instances that react to their own events
// before the sandbox callback runs.
type EventHandler interface {
	HandleEvent(prop string, args []any)
}

// Factory creates an instance for the node with id.
type Factory func(id string) Instance

// Validator checks props beyond what the Schema expresses.
type Validator func(Props) error

// Implementation describes one component type.
type Implementation struct {
	Factory  Factory
	Schema   Schema
	Validate Validator
}
