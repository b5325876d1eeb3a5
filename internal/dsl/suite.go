// Package dsl defines the YAML test-suite format and its validation.
package dsl

import "fmt"

// Kind enumerates the supported test kinds.
type Kind string

const (
	KindUniqueness     Kind = "uniqueness"
	KindNotNull        Kind = "not_null"
	KindRowCount       Kind = "row_count"
	KindFreshness      Kind = "freshness"
	KindRule           Kind = "rule"
	KindSchema         Kind = "schema"
	KindReconciliation Kind = "reconciliation"
	KindDrift          Kind = "drift"

	KindJSONPathExists         Kind = "json_path_exists"
	KindJSONArrayFlatten       Kind = "json_array_flatten"
	KindJSONTypeCheck          Kind = "json_type_check"
	KindJSONUniqueness         Kind = "json_uniqueness"
	KindJSONMappingEquivalence Kind = "json_mapping_equivalence"

	// Accepted aliases.
	KindNullCheck      Kind = "null_check"
	KindDuplicateCheck Kind = "duplicate_check"
)

// Canonical maps aliases onto their canonical kind.
func (k Kind) Canonical() Kind {
	switch k {
	case KindNullCheck:
		return KindNotNull
	case KindDuplicateCheck:
		return KindUniqueness
	default:
		return k
	}
}

// IsJSON reports whether the kind targets VARIANT/JSON payloads.
func (k Kind) IsJSON() bool {
	switch k {
	case KindJSONPathExists, KindJSONArrayFlatten, KindJSONTypeCheck,
		KindJSONUniqueness, KindJSONMappingEquivalence:
		return true
	}
	return false
}

// Tolerance bounds acceptable deviation per test kind.
type Tolerance struct {
	Abs     float64 `json:"abs,omitempty" yaml:"abs,omitempty"`
	Pct     float64 `json:"pct,omitempty" yaml:"pct,omitempty"`
	DupRows int     `json:"dup_rows,omitempty" yaml:"dup_rows,omitempty"`
	Hours   float64 `json:"hours,omitempty" yaml:"hours,omitempty"`
}

// Window scopes a test to a time range or batch.
type Window struct {
	LastDays  int     `json:"last_days,omitempty" yaml:"last_days,omitempty"`
	LastHours float64 `json:"last_hours,omitempty" yaml:"last_hours,omitempty"`
	BatchID   string  `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Range     string  `json:"range,omitempty" yaml:"range,omitempty"`
}

// Filter is a typed predicate. Free-text WHERE clauses are not accepted;
// the compiler renders filters from these fields only.
type Filter struct {
	Column string `json:"column" yaml:"column"`
	Op     string `json:"op" yaml:"op"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// TestDefinition is one immutable test within a suite.
type TestDefinition struct {
	Name       string    `json:"name" yaml:"name"`
	Kind       Kind      `json:"kind" yaml:"kind"`
	Dataset    string    `json:"dataset" yaml:"dataset"`
	Keys       []string  `json:"keys,omitempty" yaml:"keys,omitempty"`
	Column     string    `json:"column,omitempty" yaml:"column,omitempty"`
	Expression string    `json:"expression,omitempty" yaml:"expression,omitempty"`
	Window     *Window   `json:"window,omitempty" yaml:"window,omitempty"`
	Filters    []Filter  `json:"filters,omitempty" yaml:"filters,omitempty"`
	Tolerance  Tolerance `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Severity   string    `json:"severity,omitempty" yaml:"severity,omitempty"`
	Gate       string    `json:"gate,omitempty" yaml:"gate,omitempty"`

	// Kind-specific expectations.
	MinRows         *int64   `json:"min_rows,omitempty" yaml:"min_rows,omitempty"`
	MaxRows         *int64   `json:"max_rows,omitempty" yaml:"max_rows,omitempty"`
	ExpectedColumns []string `json:"expected_columns,omitempty" yaml:"expected_columns,omitempty"`
	ExpectedNulls   int64    `json:"expected_nulls,omitempty" yaml:"expected_nulls,omitempty"`
	Path            string   `json:"path,omitempty" yaml:"path,omitempty"`
	JSONType        string   `json:"json_type,omitempty" yaml:"json_type,omitempty"`
	PayloadColumn   string   `json:"payload_column,omitempty" yaml:"payload_column,omitempty"`
}

// TestSuite is an ordered collection of tests against one connection.
type TestSuite struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Connection  string           `json:"connection" yaml:"connection"`
	Tags        []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Tests       []TestDefinition `json:"tests" yaml:"tests"`
}

// validFilterOps are the only comparison operators a filter may carry.
var validFilterOps = map[string]struct{}{
	"=": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
	"in": {}, "is null": {}, "is not null": {},
}

func (f Filter) validate() error {
	if f.Column == "" {
		return fmt.Errorf("filter column is required")
	}
	if _, ok := validFilterOps[f.Op]; !ok {
		return fmt.Errorf("filter op %q is not supported", f.Op)
	}
	return nil
}
