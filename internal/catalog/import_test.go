package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogJSON = `{
  "version": "2026.08.01",
  "datasets": [
    {
      "name": "PROD.RAW.ORDERS",
      "kind": "table",
      "columns": [
        {"name": "ORDER_ID", "type": "NUMBER", "nullable": false},
        {"name": "ORDER_TS", "type": "TIMESTAMP_NTZ", "nullable": true}
      ],
      "primary_key": ["ORDER_ID"],
      "watermark_column": "ORDER_TS"
    },
    {
      "name": "PROD.MART.SALES",
      "kind": "view",
      "columns": [{"name": "TOTAL", "type": "NUMBER", "nullable": true}]
    }
  ]
}`

func TestImportPackageJSON(t *testing.T) {
	pkg, warnings, err := ImportPackage([]byte(catalogJSON), "prod")
	require.NoError(t, err)

	assert.Equal(t, "prod", pkg.Environment)
	assert.Equal(t, "2026.08.01", pkg.Version)
	assert.Len(t, pkg.Datasets, 2)
	assert.False(t, pkg.GeneratedAt.IsZero())

	require.Len(t, pkg.Signatures, 2)
	assert.Equal(t, Signature(pkg.Datasets[0]), pkg.Signatures["PROD.RAW.ORDERS"])

	// SALES has no primary key and no watermark, ORDERS has both.
	assert.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Contains(t, w, "PROD.MART.SALES")
	}
}

func TestImportPackageYAML(t *testing.T) {
	doc := `
version: "v1"
datasets:
  - name: PROD.RAW.ORDERS
    kind: table
    columns:
      - name: ORDER_ID
        type: NUMBER
        nullable: false
    primary_key: [ORDER_ID]
    watermark_column: ORDER_ID
`
	pkg, warnings, err := ImportPackage([]byte(doc), "dev")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "dev", pkg.Environment)
	require.Len(t, pkg.Datasets, 1)
}

func TestImportPackageRejectsEmptyAndDuplicates(t *testing.T) {
	_, _, err := ImportPackage([]byte(`{"datasets": []}`), "prod")
	assert.ErrorContains(t, err, "no datasets")

	dup := `{"datasets": [
		{"name": "A.B.C", "columns": [{"name": "X", "type": "NUMBER"}]},
		{"name": "a.b.c", "columns": [{"name": "X", "type": "NUMBER"}]}
	]}`
	_, _, err = ImportPackage([]byte(dup), "prod")
	assert.ErrorContains(t, err, "more than once")

	_, _, err = ImportPackage([]byte("not a package at all {{"), "prod")
	assert.Error(t, err)
}
