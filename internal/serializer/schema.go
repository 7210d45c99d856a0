package serializer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed record.schema.json
var recordSchema []byte

const recordSchemaURL = "record.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Schema returns the compiled JSON schema of the JSON output.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(recordSchemaURL, bytes.NewReader(recordSchema)); err != nil {
			compileErr = errors.Wrap(err, "add schema")
			return
		}
		compiled, compileErr = compiler.Compile(recordSchemaURL)
		if compileErr != nil {
			compileErr = errors.Wrap(compileErr, "compile schema")
		}
	})
	return compiled, compileErr
}

// ValidateJSON checks a JSON output document, array or single object,
// against the record schema.
func ValidateJSON(data []byte) error {
	schema, err := Schema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "unmarshal data")
	}
	if err := schema.Validate(v); err != nil {
		return errors.Wrap(err, "json does not match schema")
	}
	return nil
}
