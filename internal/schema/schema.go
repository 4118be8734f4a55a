// Package schema compiles the JSON Schema documents that validate
// externally-authored AMP request bodies (register, route) before the
// Router touches them, grounded on the firewall package's compile-once,
// validate-many pattern for tool-call parameters.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aimaestro/meshhost/internal/errs"
)

const registerSchemaJSON = `{
	"type": "object",
	"required": ["name", "publicKeyPem"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"publicKeyPem": {"type": "string", "minLength": 1},
		"keyAlgorithm": {"type": "string"},
		"tenant": {"type": "string"},
		"alias": {"type": "string"},
		"scope": {"type": "string"},
		"delivery": {"type": "string"},
		"metadata": {"type": "object"}
	}
}`

const routeSchemaJSON = `{
	"type": "object",
	"required": ["to", "payload"],
	"properties": {
		"to": {"type": "string", "minLength": 1},
		"subject": {"type": "string"},
		"priority": {"type": "string"},
		"inReplyTo": {"type": "string"},
		"payload": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string"},
				"message": {"type": "string"},
				"context": {"type": "object"},
				"attachments": {"type": "array"}
			}
		}
	}
}`

// documents maps a schema name to its source, compiled once at init.
var documents = map[string]string{
	"register": registerSchemaJSON,
	"route":    routeSchemaJSON,
}

var compiled = map[string]*jsonschema.Schema{}

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for name, doc := range documents {
		url := fmt.Sprintf("https://meshhost.local/schemas/%s.json", name)
		if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		schema, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		compiled[name] = schema
	}
}

// Validate checks raw (a decoded JSON request body) against the named
// schema, translating a failure into an invalid_field wire error.
func Validate(name string, raw []byte) error {
	schema, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return errs.Wrap(errs.InvalidField, "malformed JSON body", err)
	}
	if err := schema.Validate(v); err != nil {
		return errs.Wrap(errs.InvalidField, "request body failed schema validation", err)
	}
	return nil
}
