package rpc

import (
	"github.com/bytedance/sonic"
)

// Kind tags a frame.
type Kind string

const (
	KindCall    Kind = "call"
	KindResult  Kind = "result"
	KindError   Kind = "error"
	KindNotify  Kind = "notify"
	KindRelease Kind = "release"
)

const (
	fnKey  = "$fn"
	refKey = "$ref"
)

type message struct {
	Kind   Kind   `json:"k"`
	ID     uint64 `json:"id,omitempty"`
	Method string `json:"m,omitempty"`
	Fn     string `json:"fn,omitempty"`
	Args   []any  `json:"a,omitempty"`
	Result any    `json:"r,omitempty"`
	Error  string `json:"e,omitempty"`
}

func (m *message) label() string {
	if m.Fn != "" {
		return "fn:" + m.Fn
	}
	return m.Method
}

func marshal(m *message) ([]byte, error) {
	return sonic.Marshal(m)
}

func unmarshal(frame []byte) (*message, error) {
	var m message
	if err := sonic.Unmarshal(frame, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
