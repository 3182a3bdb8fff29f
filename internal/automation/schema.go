package automation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// BaseSchemaURL is the resource name platform schemas reference to extend
// the common device trigger schema:
//
//	{"allOf": [{"$ref": "device_trigger_base.json"}], ...}
const BaseSchemaURL = "device_trigger_base.json"

const baseSchemaJSON = `{
	"type": "object",
	"required": ["platform", "device_id", "domain", "type"],
	"properties": {
		"platform":  {"const": "device"},
		"device_id": {"type": "string", "minLength": 1},
		"domain":    {"type": "string", "minLength": 1},
		"entity_id": {"type": "string"},
		"type":      {"type": "string", "minLength": 1}
	}
}`

var baseSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return CompileTriggerSchema("device_trigger.json", `{"$ref": "`+BaseSchemaURL+`"}`)
})

// CompileTriggerSchema compiles a platform schema that may reference the
// base schema through BaseSchemaURL.
func CompileTriggerSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	base, err := jsonschema.UnmarshalJSON(strings.NewReader(baseSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing base trigger schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(BaseSchemaURL, base); err != nil {
		return nil, fmt.Errorf("adding base trigger schema: %w", err)
	}
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("adding %s: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	return schema, nil
}

// ValidateAgainst validates cfg with schema. Failures wrap ErrInvalidTrigger.
func ValidateAgainst(schema *jsonschema.Schema, cfg TriggerConfig) error {
	if err := schema.Validate(cfg.Map()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	return nil
}

// ValidateBase checks the fields every device trigger shares.
func ValidateBase(cfg TriggerConfig) error {
	schema, err := baseSchema()
	if err != nil {
		return err
	}
	return ValidateAgainst(schema, cfg)
}
