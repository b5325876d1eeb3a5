package dsl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	yaml "gopkg.in/yaml.v3"
)

// SuiteSchema returns the JSON Schema every suite document must satisfy.
func SuiteSchema() string {
	return `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name", "connection", "tests"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"connection": {"type": "string", "minLength": 1},
			"tags": {"type": "array", "items": {"type": "string"}},
			"tests": {
				"type": "array",
				"items": {"$ref": "#/definitions/test"}
			}
		},
		"definitions": {
			"test": {
				"type": "object",
				"required": ["name", "kind", "dataset"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"kind": {
						"type": "string",
						"enum": [
							"uniqueness", "not_null", "row_count", "freshness",
							"rule", "schema", "reconciliation", "drift",
							"json_path_exists", "json_array_flatten",
							"json_type_check", "json_uniqueness",
							"json_mapping_equivalence",
							"null_check", "duplicate_check"
						]
					},
					"dataset": {"type": "string", "minLength": 1},
					"keys": {"type": "array", "items": {"type": "string"}},
					"column": {"type": "string"},
					"expression": {"type": "string"},
					"severity": {"type": "string", "enum": ["blocker", "major", "minor"]},
					"gate": {"type": "string", "enum": ["fail", "warn"]},
					"window": {
						"type": "object",
						"properties": {
							"last_days": {"type": "integer", "minimum": 0},
							"last_hours": {"type": "number", "minimum": 0},
							"batch_id": {"type": "string"},
							"range": {"type": "string"}
						}
					},
					"tolerance": {
						"type": "object",
						"properties": {
							"abs": {"type": "number", "minimum": 0},
							"pct": {"type": "number", "minimum": 0},
							"dup_rows": {"type": "integer", "minimum": 0},
							"hours": {"type": "number", "minimum": 0}
						}
					},
					"filters": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["column", "op"],
							"properties": {
								"column": {"type": "string", "minLength": 1},
								"op": {"type": "string"},
								"value": {}
							}
						}
					},
					"min_rows": {"type": "integer", "minimum": 0},
					"max_rows": {"type": "integer", "minimum": 0},
					"expected_columns": {"type": "array", "items": {"type": "string"}},
					"expected_nulls": {"type": "integer", "minimum": 0},
					"path": {"type": "string"},
					"json_type": {"type": "string"},
					"payload_column": {"type": "string"}
				}
			}
		}
	}`
}

// validateDocument checks a YAML suite document against SuiteSchema.
func validateDocument(yamlPayload []byte) error {
	var doc any
	if err := yaml.Unmarshal(yamlPayload, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	jsonPayload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(SuiteSchema())
	documentLoader := gojsonschema.NewBytesLoader(jsonPayload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("suite document is invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}
