package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowguard/dto/internal/dsl"
)

func int64p(v int64) *int64 { return &v }

func TestCompileTestTemplates(t *testing.T) {
	tests := []struct {
		name    string
		test    dsl.TestDefinition
		wantSQL string
	}{
		{
			name: "row count",
			test: dsl.TestDefinition{
				Name: "orders_not_empty", Kind: dsl.KindRowCount,
				Dataset: "prod.raw.orders", MinRows: int64p(1),
			},
			wantSQL: "SELECT COUNT(*) AS ROW_COUNT FROM PROD.RAW.ORDERS",
		},
		{
			name: "row count with filter",
			test: dsl.TestDefinition{
				Name: "recent_orders", Kind: dsl.KindRowCount,
				Dataset: "PROD.RAW.ORDERS",
				Filters: []dsl.Filter{{Column: "status", Op: "=", Value: "SHIPPED"}},
			},
			wantSQL: "SELECT COUNT(*) AS ROW_COUNT FROM PROD.RAW.ORDERS WHERE STATUS = 'SHIPPED'",
		},
		{
			name: "not null",
			test: dsl.TestDefinition{
				Name: "order_id_not_null", Kind: dsl.KindNotNull,
				Dataset: "PROD.RAW.ORDERS", Column: "order_id",
			},
			wantSQL: "SELECT COUNT(*) AS NULL_COUNT FROM PROD.RAW.ORDERS WHERE ORDER_ID IS NULL",
		},
		{
			name: "uniqueness",
			test: dsl.TestDefinition{
				Name: "order_id_unique", Kind: dsl.KindUniqueness,
				Dataset: "PROD.RAW.ORDERS", Keys: []string{"order_id"},
			},
			wantSQL: "SELECT ORDER_ID, COUNT(*) AS DUPLICATE_COUNT FROM PROD.RAW.ORDERS " +
				"GROUP BY ORDER_ID HAVING COUNT(*) > 1",
		},
		{
			name: "freshness",
			test: dsl.TestDefinition{
				Name: "orders_fresh", Kind: dsl.KindFreshness,
				Dataset: "PROD.RAW.ORDERS", Column: "order_ts",
				Window: &dsl.Window{LastHours: 24},
			},
			wantSQL: "SELECT MAX(ORDER_TS) AS MAX_TS, CURRENT_TIMESTAMP() AS NOW, " +
				"DATEDIFF('hour', MAX(ORDER_TS), CURRENT_TIMESTAMP()) AS HOURS_LAG FROM PROD.RAW.ORDERS",
		},
		{
			name: "rule",
			test: dsl.TestDefinition{
				Name: "total_consistent", Kind: dsl.KindRule,
				Dataset:    "PROD.MART.SALES",
				Expression: "total == net + tax",
				Tolerance:  dsl.Tolerance{Abs: 0.01},
			},
			wantSQL: "SELECT COUNT(*) AS VIOLATIONS, AVG(ABS(TOTAL - (NET + TAX))) AS AVG_DIFF " +
				"FROM PROD.MART.SALES WHERE ABS(TOTAL - (NET + TAX)) > 0.01",
		},
		{
			name: "schema three part",
			test: dsl.TestDefinition{
				Name: "orders_schema", Kind: dsl.KindSchema,
				Dataset: "PROD.RAW.ORDERS",
			},
			wantSQL: "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM PROD.INFORMATION_SCHEMA.COLUMNS " +
				"WHERE TABLE_SCHEMA = 'RAW' AND TABLE_NAME = 'ORDERS' ORDER BY ORDINAL_POSITION",
		},
		{
			name: "schema two part",
			test: dsl.TestDefinition{
				Name: "orders_schema", Kind: dsl.KindSchema,
				Dataset: "RAW.ORDERS",
			},
			wantSQL: "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS " +
				"WHERE TABLE_SCHEMA = 'RAW' AND TABLE_NAME = 'ORDERS' ORDER BY ORDINAL_POSITION",
		},
		{
			name: "schema bare table",
			test: dsl.TestDefinition{
				Name: "orders_schema", Kind: dsl.KindSchema,
				Dataset: "ORDERS",
			},
			wantSQL: "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS " +
				"WHERE TABLE_NAME = 'ORDERS' ORDER BY ORDINAL_POSITION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileTest(tt.test)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, compiled.SQL)
			assert.Empty(t, compiled.Warnings)
		})
	}
}

func TestCompileTestIsPure(t *testing.T) {
	test := dsl.TestDefinition{
		Name: "orders_fresh", Kind: dsl.KindFreshness,
		Dataset: "PROD.RAW.ORDERS", Column: "ORDER_TS",
		Window: &dsl.Window{LastHours: 24},
	}

	first, err := CompileTest(test)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := CompileTest(test)
		require.NoError(t, err)
		assert.Equal(t, first.SQL, again.SQL)
	}
}

func TestCompileTestUnknownKindFallsBack(t *testing.T) {
	compiled, err := CompileTest(dsl.TestDefinition{
		Name: "mystery", Kind: "telepathy", Dataset: "PROD.RAW.ORDERS",
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) AS ROW_COUNT FROM PROD.RAW.ORDERS", compiled.SQL)
	require.Len(t, compiled.Warnings, 1)
	assert.Contains(t, compiled.Warnings[0], "telepathy")
}

func TestCompileTestReconciliationObservesRowCount(t *testing.T) {
	compiled, err := CompileTest(dsl.TestDefinition{
		Name: "orders_reconcile", Kind: dsl.KindReconciliation, Dataset: "PROD.RAW.ORDERS",
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) AS ROW_COUNT FROM PROD.RAW.ORDERS", compiled.SQL)
	require.Len(t, compiled.Warnings, 1)
	assert.Contains(t, compiled.Warnings[0], "observation")
	assert.NotContains(t, compiled.Warnings[0], "unknown")
}

func TestCompileTestRejectsHostileIdentifiers(t *testing.T) {
	_, err := CompileTest(dsl.TestDefinition{
		Name: "bad", Kind: dsl.KindNotNull,
		Dataset: "PROD.RAW.ORDERS", Column: "X; DROP TABLE T",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid identifier")

	_, err = CompileTest(dsl.TestDefinition{
		Name: "bad", Kind: dsl.KindRowCount,
		Dataset: "PROD.RAW.ORDERS",
		Filters: []dsl.Filter{{Column: "1=1 OR x", Op: "=", Value: "y"}},
	})
	require.Error(t, err)
}

func TestCompileTestExpectedDescriptor(t *testing.T) {
	compiled, err := CompileTest(dsl.TestDefinition{
		Name: "orders_not_empty", Kind: dsl.KindRowCount,
		Dataset: "PROD.RAW.ORDERS", MinRows: int64p(10), MaxRows: int64p(1000),
	})
	require.NoError(t, err)
	require.NotNil(t, compiled.Expected.MinRows)
	assert.EqualValues(t, 10, *compiled.Expected.MinRows)
	require.NotNil(t, compiled.Expected.MaxRows)
	assert.EqualValues(t, 1000, *compiled.Expected.MaxRows)

	compiled, err = CompileTest(dsl.TestDefinition{
		Name: "fresh", Kind: dsl.KindFreshness,
		Dataset: "PROD.RAW.ORDERS", Column: "TS",
		Window: &dsl.Window{LastHours: 6},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, compiled.Expected.MaxHours)
}

func TestCombineForDisplay(t *testing.T) {
	compiled := []Compiled{
		{Name: "a", Kind: dsl.KindRowCount, SQL: "SELECT COUNT(*) AS ROW_COUNT FROM T"},
		{Name: "b", Kind: dsl.KindNotNull, SQL: "SELECT COUNT(*) AS NULL_COUNT FROM T WHERE X IS NULL"},
	}

	script := CombineForDisplay(compiled)
	assert.Contains(t, script, "-- test: a (row_count)")
	assert.Contains(t, script, "-- test: b (not_null)")
	assert.Equal(t, 2, strings.Count(script, ";"))
}
