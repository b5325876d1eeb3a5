package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowguard/dto/internal/dsl"
)

func TestGenerateSQLJSONKinds(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantSQL   string
	}{
		{
			name:      "path exists",
			assertion: Assertion{Kind: AssertJSONPathExists, Path: "$.order.id"},
			wantSQL: "SELECT COUNT(*) AS TOTAL_ROWS, " +
				"COUNT_IF(GET_PATH(PAYLOAD, 'order.id') IS NOT NULL) AS PRESENT_COUNT, " +
				"COUNT_IF(GET_PATH(PAYLOAD, 'order.id') IS NULL) AS MISSING_COUNT FROM PROD.RAW.EVENTS",
		},
		{
			name:      "array flatten",
			assertion: Assertion{Kind: AssertJSONArrayFlatten, Path: "$.items"},
			wantSQL: "WITH SRC AS (SELECT COUNT(*) AS SOURCE_COUNT FROM PROD.RAW.EVENTS), " +
				"FLAT AS (SELECT COUNT(*) AS FLATTENED_COUNT FROM PROD.RAW.EVENTS, " +
				"LATERAL FLATTEN(INPUT => GET_PATH(PAYLOAD, 'items')) F) " +
				"SELECT SRC.SOURCE_COUNT, FLAT.FLATTENED_COUNT, " +
				"ABS(FLAT.FLATTENED_COUNT - SRC.SOURCE_COUNT) AS CARDINALITY_DIFF FROM SRC, FLAT",
		},
		{
			name:      "type check",
			assertion: Assertion{Kind: AssertJSONTypeCheck, Path: "$.order.id", Type: "VARCHAR"},
			wantSQL: "SELECT COUNT(*) AS TOTAL_ROWS, " +
				"COUNT_IF(TYPEOF(GET_PATH(PAYLOAD, 'order.id')) != 'VARCHAR') AS WRONG_TYPE_COUNT " +
				"FROM PROD.RAW.EVENTS",
		},
		{
			name:      "json uniqueness",
			assertion: Assertion{Kind: AssertJSONUniqueness, Path: "$.order.id"},
			wantSQL: "SELECT GET_PATH(PAYLOAD, 'order.id') AS KEY_VALUE, COUNT(*) AS DUPLICATE_COUNT " +
				"FROM PROD.RAW.EVENTS GROUP BY KEY_VALUE HAVING COUNT(*) > 1",
		},
		{
			name:      "mapping equivalence",
			assertion: Assertion{Kind: AssertJSONMappingEquivalence, Path: "$.order.id", Column: "ORDER_ID"},
			wantSQL: "SELECT COUNT(*) AS TOTAL_ROWS, " +
				"COUNT_IF(TO_VARCHAR(ORDER_ID) IS DISTINCT FROM TO_VARCHAR(GET_PATH(PAYLOAD, 'order.id'))) " +
				"AS MISMATCHED_ROWS FROM PROD.RAW.EVENTS",
		},
		{
			name:      "validity default",
			assertion: Assertion{Kind: AssertJSONValidity},
			wantSQL: "SELECT COUNT(*) AS TOTAL_ROWS, " +
				"COUNT_IF(TRY_PARSE_JSON(TO_VARCHAR(PAYLOAD)) IS NULL) AS INVALID_COUNT FROM PROD.RAW.EVENTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, err := GenerateSQL(IR{
				Dataset:   "PROD.RAW.EVENTS",
				Assertion: tt.assertion,
				Dialect:   DialectSnowflake,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
		})
	}
}

func TestGenerateSQLEscapesJSONPathQuotes(t *testing.T) {
	sql, err := GenerateSQL(IR{
		Dataset:   "PROD.RAW.EVENTS",
		Assertion: Assertion{Kind: AssertJSONPathExists, Path: "$.o'brien"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "'o''brien'")
}

func TestGenerateSQLCustomPayloadColumn(t *testing.T) {
	sql, err := GenerateSQL(IR{
		Dataset:   "PROD.RAW.EVENTS",
		Assertion: Assertion{Kind: AssertJSONPathExists, Path: "$.id", PayloadColumn: "RAW_DOC"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "GET_PATH(RAW_DOC, 'id')")
}

func TestGenerateSQLFilterRendering(t *testing.T) {
	sql, err := GenerateSQL(IR{
		Dataset: "PROD.RAW.ORDERS",
		Filters: []dsl.Filter{
			{Column: "STATUS", Op: "in", Value: []any{"NEW", "SHIPPED"}},
			{Column: "DELETED_AT", Op: "is null"},
			{Column: "AMOUNT", Op: ">", Value: 100},
		},
		Assertion: Assertion{Kind: AssertRowCountRange},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS ROW_COUNT FROM PROD.RAW.ORDERS "+
		"WHERE STATUS IN ('NEW', 'SHIPPED') AND DELETED_AT IS NULL AND AMOUNT > 100", sql)
}

func TestGenerateSQLFilterStringEscaping(t *testing.T) {
	sql, err := GenerateSQL(IR{
		Dataset: "PROD.RAW.ORDERS",
		Filters: []dsl.Filter{
			{Column: "NOTE", Op: "=", Value: "it's fine'; DROP TABLE T; --"},
		},
		Assertion: Assertion{Kind: AssertRowCountRange},
	})
	require.NoError(t, err)
	// All quotes doubled: the hostile value stays inside one string literal.
	assert.Contains(t, sql, "NOTE = 'it''s fine''; DROP TABLE T; --'")
}

func TestGenerateSQLRejectsUnknownAssertion(t *testing.T) {
	_, err := GenerateSQL(IR{
		Dataset:   "PROD.RAW.ORDERS",
		Assertion: Assertion{Kind: "sorcery"},
	})
	assert.ErrorContains(t, err, "no SQL lowering")
}
