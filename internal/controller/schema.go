package controller

import (
	"fmt"

	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

// Kind is the expected shape of a prop value.
type Kind string

const (
	KindAny    Kind = "any"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindFunc   Kind = "func"
	KindList   Kind = "list"
	KindObject Kind = "object"
)

// PropRule constrains one prop.
type PropRule struct {
	Kind     Kind
	Required bool
}

// Schema lists every prop a component accepts. A nil Schema accepts any
// serializable props.
type Schema map[string]PropRule

func kindOf(v any) (Kind, bool) {
	switch v.(type) {
	case string:
		return KindString, true
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber, true
	case bool:
		return KindBool, true
	case rpc.Callable:
		return KindFunc, true
	case []any:
		return KindList, true
	case map[string]any:
		return KindObject, true
	}
	return "", false
}

// checkSerializable walks v and rejects values outside the channel's value
// set.
func checkSerializable(path string, v any) error {
	if v == nil {
		return nil
	}
	kind, ok := kindOf(v)
	if !ok {
		return fmt.Errorf("%s: unsupported value of type %T", path, v)
	}
	switch kind {
	case KindList:
		for i, item := range v.([]any) {
			if err := checkSerializable(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	case KindObject:
		for k, item := range v.(map[string]any) {
			if err := checkSerializable(path+"."+k, item); err != nil {
				return err
			}
		}
	}
	return nil
}
