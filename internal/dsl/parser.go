package dsl

import (
	"fmt"
	"regexp"

	yaml "gopkg.in/yaml.v3"
)

// Datasets must be schema.table or db.schema.table with conservative ASCII
// identifiers, matching what the SQL guardrail will later accept.
var datasetPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){1,2}$`)

// ParseSuite parses and validates a YAML suite document. Validation runs in
// two layers: the JSON Schema for shape, then invariants the schema cannot
// express (unique test names, dataset grammar, kind-specific requirements).
func ParseSuite(yamlPayload []byte) (TestSuite, error) {
	if err := validateDocument(yamlPayload); err != nil {
		return TestSuite{}, err
	}

	var suite TestSuite
	if err := yaml.Unmarshal(yamlPayload, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to unmarshal suite: %w", err)
	}

	names := make(map[string]struct{}, len(suite.Tests))
	for i, test := range suite.Tests {
		if _, dup := names[test.Name]; dup {
			return TestSuite{}, fmt.Errorf("test name %q is not unique within the suite", test.Name)
		}
		names[test.Name] = struct{}{}

		if !datasetPattern.MatchString(test.Dataset) {
			return TestSuite{}, fmt.Errorf("test %q: dataset %q is not a valid schema.table or db.schema.table reference", test.Name, test.Dataset)
		}

		if err := validateKindRequirements(test); err != nil {
			return TestSuite{}, fmt.Errorf("test %q: %w", test.Name, err)
		}

		for _, f := range test.Filters {
			if err := f.validate(); err != nil {
				return TestSuite{}, fmt.Errorf("test %q: %w", test.Name, err)
			}
		}

		if test.Severity == "" {
			suite.Tests[i].Severity = "major"
		}
		if test.Gate == "" {
			suite.Tests[i].Gate = "fail"
		}
	}

	return suite, nil
}

func validateKindRequirements(test TestDefinition) error {
	switch test.Kind.Canonical() {
	case KindUniqueness:
		if len(test.Keys) == 0 {
			return fmt.Errorf("uniqueness tests require keys")
		}
	case KindNotNull:
		if test.Column == "" {
			return fmt.Errorf("not_null tests require a column")
		}
	case KindFreshness:
		if test.Column == "" {
			return fmt.Errorf("freshness tests require a timestamp column")
		}
		if test.Window == nil || test.Window.LastHours <= 0 {
			return fmt.Errorf("freshness tests require window.last_hours")
		}
	case KindRule:
		if test.Expression == "" {
			return fmt.Errorf("rule tests require an expression")
		}
	case KindJSONPathExists, KindJSONArrayFlatten, KindJSONTypeCheck, KindJSONUniqueness:
		if test.Path == "" {
			return fmt.Errorf("%s tests require a path", test.Kind)
		}
		if test.Kind == KindJSONTypeCheck && test.JSONType == "" {
			return fmt.Errorf("json_type_check tests require json_type")
		}
	case KindJSONMappingEquivalence:
		if test.Path == "" || test.Column == "" {
			return fmt.Errorf("json_mapping_equivalence tests require path and column")
		}
	}
	return nil
}
