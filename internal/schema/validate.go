package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate compiles schema as a standalone JSON Schema document and reports
// an error if it is not well-formed. The lifecycle manager calls it on every
// canonicalized output schema it builds at load time, so a bug in the bridge
// fails loudly there rather than surfacing as a confusing client-side
// validation error later.
func Validate(s JSON) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema for self-check: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("invalid generated schema: %w", err)
	}
	if _, err := compiler.Compile(resourceName); err != nil {
		return fmt.Errorf("invalid generated schema: %w", err)
	}
	return nil
}
