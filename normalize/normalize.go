// Package normalize implements the Result Normalizer: the single place
// in the engine that inspects a raw executor return value's shape and
// converts it into a tagged ComponentResult. Nowhere else in the engine
// does reflection-driven shape sniffing; every other package operates
// on ComponentResult directly. This re-architects original_source's
// reflect-heavy response-shaping helpers into one narrow conversion
// boundary.
package normalize

import (
	"fmt"
	"reflect"
)

// Kind tags the shape of a ComponentResult's payload.
type Kind string

const (
	KindDocument Kind = "document"
	KindSequence Kind = "sequence"
	KindScalar   Kind = "scalar"
	KindError    Kind = "error"
)

// ComponentResult is the normalized, tagged form every component
// executor's return value is converted into before it is checkpointed,
// validated, or consolidated into a report.
type ComponentResult struct {
	Component string                 `json:"component"`
	Kind      Kind                   `json:"kind"`
	Success   bool                   `json:"success"`
	Document  map[string]interface{} `json:"data,omitempty"`
	Items     []interface{}          `json:"items,omitempty"`
	TotalItems int                   `json:"total_items,omitempty"`
	Scalar    string                 `json:"scalar,omitempty"`
	Converted bool                   `json:"converted,omitempty"`
	Error     string                 `json:"error,omitempty"`
	SkippedFromCheckpoint bool       `json:"skipped_from_checkpoint,omitempty"`
}

// FromExecutor converts an executor's raw return value into a
// ComponentResult, applying the shape-sniffing rules:
//   - a map[string]interface{} is treated as an already-structured
//     document and returned as-is (the "document" case).
//   - a slice is wrapped as {success: true, items: sequence,
//     total_items: len}.
//   - anything else is stringified into a scalar result flagged
//     converted=true, success=false (the engine never silently accepts
//     an unstructured scalar as a successful result).
func FromExecutor(component string, raw interface{}) ComponentResult {
	if raw == nil {
		return ComponentResult{Component: component, Kind: KindScalar, Success: false, Scalar: "", Converted: true}
	}

	if doc, ok := raw.(map[string]interface{}); ok {
		return ComponentResult{Component: component, Kind: KindDocument, Success: true, Document: doc}
	}

	v := reflect.ValueOf(raw)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		items := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			items[i] = v.Index(i).Interface()
		}
		return ComponentResult{Component: component, Kind: KindSequence, Success: true, Items: items, TotalItems: len(items)}
	}

	return ComponentResult{
		Component: component,
		Kind:      KindScalar,
		Success:   false,
		Scalar:    fmt.Sprintf("%v", raw),
		Converted: true,
	}
}

// FromError builds the error-sentinel ComponentResult recorded when an
// executor panics, returns an error, or fails validation.
func FromError(component string, err error) ComponentResult {
	return ComponentResult{Component: component, Kind: KindError, Success: false, Error: err.Error()}
}

// Skipped builds the result recorded when a component's output was
// loaded from an existing checkpoint artifact instead of re-executed.
func Skipped(component string, previous ComponentResult) ComponentResult {
	previous.SkippedFromCheckpoint = true
	return previous
}

// Validator decides whether a normalized result is acceptable. The
// default implementation used by the scheduler rejects anything not
// Success, plus empty documents/sequences.
type Validator func(ComponentResult) bool

// DefaultValidator rejects unsuccessful results and empty payloads.
func DefaultValidator(r ComponentResult) bool {
	if !r.Success {
		return false
	}
	switch r.Kind {
	case KindDocument:
		return len(r.Document) > 0
	case KindSequence:
		return len(r.Items) > 0
	default:
		return true
	}
}
