// =============================================================================
// FatturaPA Extractor - Error Taxonomy
// =============================================================================
//
// Every error produced while handling a single item is one of the types
// below. They are item-scoped: the orchestrator records them against the
// item key and never lets them abort the batch.
//
//   UnsafeXMLError    - DTD, entity declaration or amplification attempt
//   MalformedXMLError - the document is not well-formed
//   SchemaError       - well-formed XML, missing or invalid invoice field
//   LoadError         - archive unreadable, entry missing, unsupported input
//   CancelledError    - the batch was cancelled before the item ran
//
// =============================================================================

package types

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorKind is the stable name of an error class used in reports.
type ErrorKind string

const (
	KindUnsafeXML    ErrorKind = "unsafe_xml"
	KindMalformedXML ErrorKind = "malformed_xml"
	KindSchema       ErrorKind = "schema"
	KindLoad         ErrorKind = "load"
	KindCancelled    ErrorKind = "cancelled"
	KindInternal     ErrorKind = "internal"
)

// UnsafeXMLError reports a rejected dangerous construct.
type UnsafeXMLError struct {
	Item      string
	Construct string
	Detail    string
}

func (e *UnsafeXMLError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: unsafe XML construct %s", e.Item, e.Construct)
	}
	return fmt.Sprintf("%s: unsafe XML construct %s: %s", e.Item, e.Construct, e.Detail)
}

// MalformedXMLError reports a document that is not well-formed. Line and
// Column are 1-based and zero when unknown.
type MalformedXMLError struct {
	Item   string
	Line   int
	Column int
	Err    error
}

func (e *MalformedXMLError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: malformed XML: %v", e.Item, e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: malformed XML: %v", e.Item, e.Line, e.Err)
	default:
		return fmt.Sprintf("%s: malformed XML: %v", e.Item, e.Err)
	}
}

func (e *MalformedXMLError) Unwrap() error { return e.Err }

// SchemaError reports a missing required field or a value that cannot be
// converted to the field's type. Raw is empty for missing fields.
type SchemaError struct {
	Field  string
	Raw    string
	Reason string
}

func (e *SchemaError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "invalid value"
	}
	if e.Raw == "" {
		return fmt.Sprintf("schema: %s: %s", e.Field, reason)
	}
	return fmt.Sprintf("schema: %s: %s (value: %q)", e.Field, reason, e.Raw)
}

// MissingField builds the SchemaError for an absent required field.
func MissingField(field string) *SchemaError {
	return &SchemaError{Field: field, Reason: "required field missing"}
}

// LoadError reports a source that could not be read or enumerated.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CancelledError marks an item that was never processed because the batch
// context ended first.
type CancelledError struct {
	Item string
	Err  error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s: not processed: %v", e.Item, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) ErrorKind {
	var (
		unsafe    *UnsafeXMLError
		malformed *MalformedXMLError
		schema    *SchemaError
		load      *LoadError
		cancelled *CancelledError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unsafe):
		return KindUnsafeXML
	case errors.As(err, &malformed):
		return KindMalformedXML
	case errors.As(err, &schema):
		return KindSchema
	case errors.As(err, &cancelled):
		return KindCancelled
	case errors.As(err, &load):
		return KindLoad
	default:
		return KindInternal
	}
}
