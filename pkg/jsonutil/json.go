// Package jsonutil centralizes JSON encode/decode behind bytedance/sonic,
// the JSON library the teacher repository standardizes on.
package jsonutil

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

func NewEncoder(w io.Writer) *sonic.Encoder {
	return api.NewEncoder(w)
}

func NewDecoder(r io.Reader) *sonic.Decoder {
	return api.NewDecoder(r)
}
