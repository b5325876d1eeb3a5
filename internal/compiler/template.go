package compiler

import (
	"fmt"
	"strings"

	"github.com/dataflowguard/dto/internal/dsl"
)

// DialectSnowflake is the only dialect currently lowered.
const DialectSnowflake = "snowflake"

// CompileTest lowers one test definition into a single SQL statement plus
// the expectation descriptor the evaluator consumes. Unknown kinds fall
// back to a row-count probe with a warning rather than failing the run.
func CompileTest(test dsl.TestDefinition) (Compiled, error) {
	ir, warnings, err := BuildIR(test)
	if err != nil {
		return Compiled{}, fmt.Errorf("compile %s: %w", test.Name, err)
	}

	sql, err := GenerateSQL(ir)
	if err != nil {
		return Compiled{}, fmt.Errorf("compile %s: %w", test.Name, err)
	}

	return Compiled{
		Name:     test.Name,
		Kind:     test.Kind,
		SQL:      sql,
		Expected: buildExpected(test, ir),
		Warnings: warnings,
	}, nil
}

// BuildIR maps a test definition onto the intermediate representation.
func BuildIR(test dsl.TestDefinition) (IR, []string, error) {
	ir := IR{
		Dataset: strings.ToUpper(test.Dataset),
		Filters: test.Filters,
		Dialect: DialectSnowflake,
	}

	var warnings []string

	switch test.Kind.Canonical() {
	case dsl.KindUniqueness:
		ir.Assertion = Assertion{Kind: AssertUniqueness, Keys: upperAll(test.Keys)}

	case dsl.KindNotNull:
		ir.Assertion = Assertion{
			Kind:          AssertNotNull,
			Column:        strings.ToUpper(test.Column),
			ExpectedNulls: test.ExpectedNulls,
		}

	case dsl.KindRowCount:
		ir.Assertion = Assertion{Kind: AssertRowCountRange, MinRows: test.MinRows, MaxRows: test.MaxRows}

	case dsl.KindFreshness:
		maxHours := test.Tolerance.Hours
		if test.Window != nil && test.Window.LastHours > 0 {
			maxHours = test.Window.LastHours
		}
		ir.Assertion = Assertion{
			Kind:     AssertFreshness,
			Column:   strings.ToUpper(test.Column),
			MaxHours: maxHours,
		}

	case dsl.KindRule:
		left, expr, err := ParseRule(test.Expression)
		if err != nil {
			return IR{}, nil, fmt.Errorf("rule expression: %w", err)
		}
		ir.Assertion = Assertion{Kind: AssertRule, Left: left, Expr: expr, Tolerance: test.Tolerance.Abs}

	case dsl.KindSchema:
		ir.Assertion = Assertion{Kind: AssertSchema, ExpectedColumns: upperAll(test.ExpectedColumns)}

	case dsl.KindJSONPathExists:
		ir.Assertion = Assertion{Kind: AssertJSONPathExists, Path: test.Path, PayloadColumn: payloadColumn(test)}
	case dsl.KindJSONArrayFlatten:
		ir.Assertion = Assertion{Kind: AssertJSONArrayFlatten, Path: test.Path, PayloadColumn: payloadColumn(test)}
	case dsl.KindJSONTypeCheck:
		ir.Assertion = Assertion{
			Kind:          AssertJSONTypeCheck,
			Path:          test.Path,
			Type:          strings.ToUpper(test.JSONType),
			PayloadColumn: payloadColumn(test),
		}
	case dsl.KindJSONUniqueness:
		ir.Assertion = Assertion{Kind: AssertJSONUniqueness, Path: test.Path, PayloadColumn: payloadColumn(test)}
	case dsl.KindJSONMappingEquivalence:
		ir.Assertion = Assertion{
			Kind:          AssertJSONMappingEquivalence,
			Path:          test.Path,
			Column:        strings.ToUpper(test.Column),
			PayloadColumn: payloadColumn(test),
		}

	case dsl.KindReconciliation, dsl.KindDrift:
		// Lowered to a row-count observation. The evaluator records the
		// result without a pass/fail verdict.
		warnings = append(warnings,
			fmt.Sprintf("%s runs as a row-count observation", test.Kind))
		ir.Assertion = Assertion{Kind: AssertRowCountRange, MinRows: test.MinRows, MaxRows: test.MaxRows}

	default:
		warnings = append(warnings,
			fmt.Sprintf("unknown test kind %q, falling back to row_count", test.Kind))
		ir.Assertion = Assertion{Kind: AssertRowCountRange, MinRows: test.MinRows, MaxRows: test.MaxRows}
	}

	return ir, warnings, nil
}

func payloadColumn(test dsl.TestDefinition) string {
	if test.PayloadColumn != "" {
		return strings.ToUpper(test.PayloadColumn)
	}
	return "PAYLOAD"
}

func buildExpected(test dsl.TestDefinition, ir IR) Expected {
	expected := Expected{
		ToleranceAbs: test.Tolerance.Abs,
		TolerancePct: test.Tolerance.Pct,
		DupRows:      test.Tolerance.DupRows,
	}

	switch ir.Assertion.Kind {
	case AssertRowCountRange:
		expected.MinRows = ir.Assertion.MinRows
		expected.MaxRows = ir.Assertion.MaxRows
	case AssertNotNull:
		expected.ExpectedNulls = ir.Assertion.ExpectedNulls
	case AssertFreshness:
		expected.MaxHours = ir.Assertion.MaxHours
	case AssertSchema:
		expected.Columns = ir.Assertion.ExpectedColumns
	case AssertJSONTypeCheck:
		expected.JSONType = ir.Assertion.Type
	}
	return expected
}

// CombineForDisplay joins compiled statements into one annotated script.
// This output is for human review only; execution always sends statements
// one at a time.
func CombineForDisplay(compiled []Compiled) string {
	var b strings.Builder
	for i, c := range compiled {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "-- test: %s (%s)\n%s;", c.Name, c.Kind, c.SQL)
	}
	return b.String()
}

func upperAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
