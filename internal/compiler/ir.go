// Package compiler lowers high-level test definitions and AI-produced
// expressions into an intermediate representation, and lowers that IR into
// dialect SQL. Generated SQL is pure: the same input always produces
// byte-identical output.
package compiler

import "github.com/dataflowguard/dto/internal/dsl"

// AssertionKind tags the assertion variant carried by an IR.
type AssertionKind string

const (
	AssertUniqueness     AssertionKind = "uniqueness"
	AssertNotNull        AssertionKind = "not_null"
	AssertRowCountRange  AssertionKind = "row_count_range"
	AssertFreshness      AssertionKind = "freshness"
	AssertRule           AssertionKind = "rule"
	AssertSchema         AssertionKind = "schema"
	AssertReconciliation AssertionKind = "reconciliation"
	AssertDrift          AssertionKind = "drift"

	AssertJSONPathExists         AssertionKind = "json_path_exists"
	AssertJSONArrayFlatten       AssertionKind = "json_array_flatten"
	AssertJSONTypeCheck          AssertionKind = "json_type_check"
	AssertJSONUniqueness         AssertionKind = "json_uniqueness"
	AssertJSONMappingEquivalence AssertionKind = "json_mapping_equivalence"
	AssertJSONValidity           AssertionKind = "json_validity"
)

// IsJSON reports whether the assertion targets VARIANT/JSON payloads.
func (k AssertionKind) IsJSON() bool {
	switch k {
	case AssertJSONPathExists, AssertJSONArrayFlatten, AssertJSONTypeCheck,
		AssertJSONUniqueness, AssertJSONMappingEquivalence, AssertJSONValidity:
		return true
	}
	return false
}

// Assertion is a tagged variant: Kind selects which fields are meaningful.
// It replaces free-form dictionaries so the on-disk schema is fixed.
type Assertion struct {
	Kind AssertionKind `json:"kind"`

	Keys   []string `json:"keys,omitempty"`
	Column string   `json:"column,omitempty"`

	MinRows *int64 `json:"min_rows,omitempty"`
	MaxRows *int64 `json:"max_rows,omitempty"`

	MaxHours float64 `json:"max_hours,omitempty"`

	Left      string  `json:"left,omitempty"`
	Expr      string  `json:"expr,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`

	Path          string `json:"path,omitempty"`
	Type          string `json:"type,omitempty"`
	PayloadColumn string `json:"payload_column,omitempty"`

	ExpectedColumns []string `json:"expected_columns,omitempty"`
	ExpectedNulls   int64    `json:"expected_nulls,omitempty"`
}

// Join references a second dataset by equi-join keys.
type Join struct {
	Dataset  string `json:"dataset"`
	LeftKey  string `json:"left_key"`
	RightKey string `json:"right_key"`
}

// IR is the intermediate representation consumed by SQL generation.
type IR struct {
	Dataset      string       `json:"dataset"`
	Filters      []dsl.Filter `json:"filters,omitempty"`
	Joins        []Join       `json:"joins,omitempty"`
	Aggregations []string     `json:"aggregations,omitempty"`
	Assertion    Assertion    `json:"assertion"`
	PartitionBy  []string     `json:"partition_by,omitempty"`
	Dialect      string       `json:"dialect"`
}

// Expected is the small descriptor handed to the evaluator alongside rows.
type Expected struct {
	MinRows       *int64   `json:"min_rows,omitempty"`
	MaxRows       *int64   `json:"max_rows,omitempty"`
	ExpectedNulls int64    `json:"expected_nulls,omitempty"`
	DupRows       int      `json:"dup_rows,omitempty"`
	MaxHours      float64  `json:"max_hours,omitempty"`
	ToleranceAbs  float64  `json:"tolerance_abs,omitempty"`
	TolerancePct  float64  `json:"tolerance_pct,omitempty"`
	Columns       []string `json:"columns,omitempty"`
	JSONType      string   `json:"json_type,omitempty"`
}

// Compiled is the output of compiling one test: exactly one SQL statement
// plus the expectation descriptor.
type Compiled struct {
	Name     string   `json:"name"`
	Kind     dsl.Kind `json:"kind"`
	SQL      string   `json:"sql"`
	Expected Expected `json:"expected"`
	Warnings []string `json:"warnings,omitempty"`
}
