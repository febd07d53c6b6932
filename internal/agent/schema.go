package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschemav5.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschemav5.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschemav5.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArguments validates tool-call arguments JSON against a tool's
// declared JSON Schema parameter object (§9: explicit schema-declared
// parameter binding, not ad-hoc reflection).
func ValidateArguments(schema json.RawMessage, arguments json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool arguments invalid: %w", err)
	}
	return nil
}

// GenerateSchema reflects a JSON Schema parameter object from a Go type,
// for tools implemented as typed Go functions rather than hand-written
// JSON Schema. Required fields are those tagged `jsonschema:"required"`.
func GenerateSchema[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal generated schema: %w", err)
	}

	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, fmt.Errorf("decode generated schema: %w", err)
	}
	delete(asMap, "$schema")
	delete(asMap, "$id")

	out, err := json.Marshal(asMap)
	if err != nil {
		return nil, fmt.Errorf("re-marshal generated schema: %w", err)
	}
	return out, nil
}
