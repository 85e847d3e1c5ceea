// Package output provides machine-readable formatting for commands invoked
// with --json. Human-readable rendering lives with each command; this package
// only guarantees a stable JSON surface for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is the top-level shape of every --json response.
type Envelope struct {
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// PrintJSON writes v as pretty-printed JSON.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// OK wraps data in a success envelope and writes it.
func OK(w io.Writer, data any) error {
	return PrintJSON(w, Envelope{Status: "ok", Data: data})
}

// Error wraps err in a failure envelope and writes it.
func Error(w io.Writer, err error) error {
	return PrintJSON(w, Envelope{Status: "error", Error: err.Error()})
}
