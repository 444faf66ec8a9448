package renderer

import (
	"html"
	"io"
	"sort"

	"github.com/GriffinCanCode/remoteui/internal/controller"
)

// voidElements cannot have children.
var voidElements = map[string]bool{
	"area":  true,
	"br":    true,
	"col":   true,
	"hr":    true,
	"img":   true,
	"input": true,
	"wbr":   true,
}

// booleanAttributes are written without a value.
var booleanAttributes = map[string]bool{
	"checked":  true,
	"disabled": true,
	"hidden":   true,
	"readonly": true,
	"required": true,
	"selected": true,
}

// htmlWriter writes elements and remembers the first write error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) write(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

// element writes el. slot renders the node's children and is called at the
// element marked as slot, or at the end of the outermost element when no
// slot exists.
func (h *htmlWriter) element(el controller.Element, slot func()) {
	used := false
	h.elementAt(el, func() {
		used = true
		slot()
	}, true, &used)
}

func (h *htmlWriter) elementAt(el controller.Element, slot func(), outer bool, used *bool) {
	if h.err != nil {
		return
	}
	tag := el.Tag
	if tag == "" {
		tag = "div"
	}

	h.write("<" + tag)
	h.attrs(el.Attrs)
	h.write(">")
	if voidElements[tag] {
		return
	}

	if el.Text != "" {
		h.write(html.EscapeString(el.Text))
	}
	for _, child := range el.Children {
		h.elementAt(child, slot, false, used)
	}
	if el.Slot || (outer && !*used) {
		slot()
	}
	h.write("</" + tag + ">")
}

func (h *htmlWriter) attrs(attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := attrs[k]
		if booleanAttributes[k] {
			if v != "" && v != "false" {
				h.write(" " + k)
			}
			continue
		}
		h.write(" " + k + `="` + html.EscapeString(v) + `"`)
	}
}
