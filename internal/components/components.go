// Package components provides the built-in component vocabulary sandboxed
// scripts can render.
package components

import (
	"errors"
	"strconv"
	"sync"

	"github.com/GriffinCanCode/remoteui/internal/controller"
)

// Type names.
const (
	TypeCard    = "Card"
	TypeButton  = "Button"
	TypeText    = "Text"
	TypeHeading = "Heading"
	TypeStack   = "Stack"
	TypeBadge   = "Badge"
)

// Implementations returns the built-in vocabulary.
func Implementations() map[string]controller.Implementation {
	return map[string]controller.Implementation{
		TypeCard: {
			Factory: func(string) controller.Instance { return &card{} },
			Schema: controller.Schema{
				"title":    {Kind: controller.KindString},
				"subtitle": {Kind: controller.KindString},
			},
		},
		TypeButton: {
			Factory: func(string) controller.Instance { return &button{} },
			Schema: controller.Schema{
				"label":    {Kind: controller.KindString, Required: true},
				"onPress":  {Kind: controller.KindFunc},
				"disabled": {Kind: controller.KindBool},
				"variant":  {Kind: controller.KindString},
			},
			Validate: oneOf("variant", "primary", "secondary", "danger"),
		},
		TypeText: {
			Factory: func(string) controller.Instance { return &text{} },
			Schema: controller.Schema{
				"content": {Kind: controller.KindAny},
			},
		},
		TypeHeading: {
			Factory: func(string) controller.Instance { return &heading{} },
			Schema: controller.Schema{
				"content": {Kind: controller.KindString, Required: true},
				"level":   {Kind: controller.KindNumber},
			},
			Validate: headingLevel,
		},
		TypeStack: {
			Factory: func(string) controller.Instance { return &stack{} },
			Schema: controller.Schema{
				"direction": {Kind: controller.KindString},
				"gap":       {Kind: controller.KindNumber},
			},
			Validate: oneOf("direction", "vertical", "horizontal"),
		},
		TypeBadge: {
			Factory: func(string) controller.Instance { return &badge{} },
			Schema: controller.Schema{
				"label": {Kind: controller.KindString, Required: true},
				"tone":  {Kind: controller.KindString},
			},
			Validate: oneOf("tone", "neutral", "info", "success", "warning", "danger"),
		},
	}
}

// Registry builds a controller registry holding the built-in vocabulary.
func Registry() *controller.Registry {
	reg, err := controller.NewRegistry(Implementations())
	if err != nil {
		// The vocabulary is static.
		panic(err)
	}
	return reg
}

func oneOf(prop string, allowed ...string) controller.Validator {
	return func(p controller.Props) error {
		v, present := p[prop]
		if !present {
			return nil
		}
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return &controller.ValidationError{Prop: prop, Reason: "unsupported value " + strconv.Quote(p.String(prop))}
	}
}

func headingLevel(p controller.Props) error {
	level, ok := p.Number("level")
	if !ok {
		return nil
	}
	if level < 1 || level > 6 || level != float64(int(level)) {
		return errors.New("level must be an integer from 1 to 6")
	}
	return nil
}

type card struct {
	props controller.Props
}

func (c *card) Update(p controller.Props) { c.props = p }

func (c *card) Render() controller.Element {
	el := controller.Element{Tag: "section", Attrs: map[string]string{"class": "rui-card"}}
	if title := c.props.String("title"); title != "" {
		el.Children = append(el.Children, controller.Element{Tag: "h3", Attrs: map[string]string{"class": "rui-card-title"}, Text: title})
	}
	if subtitle := c.props.String("subtitle"); subtitle != "" {
		el.Children = append(el.Children, controller.Element{Tag: "p", Attrs: map[string]string{"class": "rui-card-subtitle"}, Text: subtitle})
	}
	el.Children = append(el.Children, controller.Element{Tag: "div", Attrs: map[string]string{"class": "rui-card-body"}, Slot: true})
	return el
}

// button counts its own presses. The count lives on the instance, so it
// survives prop updates and moves but not remounts.
type button struct {
	mu      sync.Mutex
	props   controller.Props
	presses int
}

func (b *button) Update(p controller.Props) {
	b.mu.Lock()
	b.props = p
	b.mu.Unlock()
}

func (b *button) HandleEvent(prop string, _ []any) {
	if prop != "onPress" {
		return
	}
	b.mu.Lock()
	b.presses++
	b.mu.Unlock()
}

// Presses returns how many times the button was pressed.
func (b *button) Presses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presses
}

func (b *button) Render() controller.Element {
	b.mu.Lock()
	defer b.mu.Unlock()

	variant := b.props.String("variant")
	if variant == "" {
		variant = "primary"
	}
	attrs := map[string]string{
		"type":         "button",
		"class":        "rui-button rui-button-" + variant,
		"data-presses": strconv.Itoa(b.presses),
	}
	if _, ok := b.props["onPress"]; ok {
		attrs["data-event"] = "onPress"
	}
	if b.props.Bool("disabled") {
		attrs["disabled"] = "disabled"
	}
	return controller.Element{Tag: "button", Attrs: attrs, Text: b.props.String("label")}
}

type text struct {
	props controller.Props
}

func (t *text) Update(p controller.Props) { t.props = p }

func (t *text) Render() controller.Element {
	var content string
	switch v := t.props["content"].(type) {
	case string:
		content = v
	case float64:
		content = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		content = strconv.FormatBool(v)
	}
	return controller.Element{Tag: "span", Attrs: map[string]string{"class": "rui-text"}, Text: content}
}

type heading struct {
	props controller.Props
}

func (h *heading) Update(p controller.Props) { h.props = p }

func (h *heading) Render() controller.Element {
	level := 2
	if n, ok := h.props.Number("level"); ok {
		level = int(n)
	}
	return controller.Element{Tag: "h" + strconv.Itoa(level), Attrs: map[string]string{"class": "rui-heading"}, Text: h.props.String("content")}
}

type stack struct {
	props controller.Props
}

func (s *stack) Update(p controller.Props) { s.props = p }

func (s *stack) Render() controller.Element {
	direction := s.props.String("direction")
	if direction == "" {
		direction = "vertical"
	}
	attrs := map[string]string{"class": "rui-stack rui-stack-" + direction}
	if gap, ok := s.props.Number("gap"); ok {
		attrs["style"] = "gap:" + strconv.FormatFloat(gap, 'f', -1, 64) + "px"
	}
	return controller.Element{Tag: "div", Attrs: attrs}
}

type badge struct {
	props controller.Props
}

func (b *badge) Update(p controller.Props) { b.props = p }

func (b *badge) Render() controller.Element {
	tone := b.props.String("tone")
	if tone == "" {
		tone = "neutral"
	}
	return controller.Element{Tag: "span", Attrs: map[string]string{"class": "rui-badge rui-badge-" + tone}, Text: b.props.String("label")}
}
