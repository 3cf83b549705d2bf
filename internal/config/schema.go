package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error

	compiledOnce sync.Once
	compiled     *schemavalidate.Schema
	compiledErr  error
)

// JSONSchema returns the JSON Schema for the Config struct, reflected
// from its yaml tags. Exposed for `rlm schema` and for external tooling
// that wants to lint a config file without this module's own loader.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag: "yaml",
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// ValidateRaw checks a decoded config map against the reflected JSON
// Schema before strict-field decoding, so a field given the wrong JSON
// type (a string where the schema says integer, say) is reported with
// a schema path instead of surfacing later as a cryptic yaml decode
// error. This runs in addition to, not instead of, decodeRawConfig's
// KnownFields(true) decode and Validate's semantic checks — the three
// layers catch different mistakes.
func ValidateRaw(raw map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config for schema check: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode config for schema check: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return &ConfigError{Field: "(schema)", Reason: err.Error()}
	}
	return nil
}

func compiledSchema() (*schemavalidate.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := JSONSchema()
		if err != nil {
			compiledErr = err
			return
		}
		compiled, compiledErr = schemavalidate.CompileString("rlm-config.schema.json", string(raw))
	})
	return compiled, compiledErr
}
