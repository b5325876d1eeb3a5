package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSuite = `
name: orders-quality
description: Core order pipeline checks
connection: snowflake-prod
tags: [orders, daily]
tests:
  - name: order_id_unique
    kind: uniqueness
    dataset: PROD.RAW.ORDERS
    keys: [ORDER_ID]
  - name: order_ts_fresh
    kind: freshness
    dataset: PROD.RAW.ORDERS
    column: ORDER_TS
    window:
      last_hours: 24
  - name: orders_not_empty
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 1
`

func TestParseSuiteValid(t *testing.T) {
	suite, err := ParseSuite([]byte(validSuite))
	require.NoError(t, err)

	assert.Equal(t, "orders-quality", suite.Name)
	assert.Equal(t, "snowflake-prod", suite.Connection)
	require.Len(t, suite.Tests, 3)

	assert.Equal(t, KindUniqueness, suite.Tests[0].Kind)
	assert.Equal(t, []string{"ORDER_ID"}, suite.Tests[0].Keys)

	// Defaults applied when omitted.
	assert.Equal(t, "major", suite.Tests[0].Severity)
	assert.Equal(t, "fail", suite.Tests[0].Gate)

	require.NotNil(t, suite.Tests[2].MinRows)
	assert.EqualValues(t, 1, *suite.Tests[2].MinRows)
}

func TestParseSuiteAllowsEmptySuite(t *testing.T) {
	suite, err := ParseSuite([]byte("name: s\nconnection: c\ntests: []\n"))
	require.NoError(t, err)
	assert.Empty(t, suite.Tests)
}

func TestParseSuiteRejections(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing connection",
			yaml:    "name: s\ntests:\n  - name: t\n    kind: row_count\n    dataset: A.B.C\n",
			wantErr: "connection",
		},
		{
			name:    "unknown kind",
			yaml:    "name: s\nconnection: c\ntests:\n  - name: t\n    kind: explode\n    dataset: A.B.C\n",
			wantErr: "invalid",
		},
		{
			name: "duplicate test names",
			yaml: `name: s
connection: c
tests:
  - name: t
    kind: row_count
    dataset: A.B.C
  - name: t
    kind: row_count
    dataset: A.B.C
`,
			wantErr: "not unique",
		},
		{
			name:    "bare table name",
			yaml:    "name: s\nconnection: c\ntests:\n  - name: t\n    kind: row_count\n    dataset: ORDERS\n",
			wantErr: "not a valid",
		},
		{
			name:    "non-ascii dataset",
			yaml:    "name: s\nconnection: c\ntests:\n  - name: t\n    kind: row_count\n    dataset: PROD.RAW.ÜBER\n",
			wantErr: "not a valid",
		},
		{
			name:    "uniqueness without keys",
			yaml:    "name: s\nconnection: c\ntests:\n  - name: t\n    kind: uniqueness\n    dataset: A.B.C\n",
			wantErr: "require keys",
		},
		{
			name:    "freshness without window",
			yaml:    "name: s\nconnection: c\ntests:\n  - name: t\n    kind: freshness\n    dataset: A.B.C\n    column: TS\n",
			wantErr: "window.last_hours",
		},
		{
			name:    "rule without expression",
			yaml:    "name: s\nconnection: c\ntests:\n  - name: t\n    kind: rule\n    dataset: A.B.C\n",
			wantErr: "expression",
		},
		{
			name: "bad filter op",
			yaml: `name: s
connection: c
tests:
  - name: t
    kind: row_count
    dataset: A.B.C
    filters:
      - column: STATUS
        op: "LIKE OR 1=1"
        value: x
`,
			wantErr: "not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSuiteAliases(t *testing.T) {
	doc := `
name: s
connection: c
tests:
  - name: t1
    kind: null_check
    dataset: A.B.C
    column: X
  - name: t2
    kind: duplicate_check
    dataset: A.B.C
    keys: [X]
`
	suite, err := ParseSuite([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, KindNotNull, suite.Tests[0].Kind.Canonical())
	assert.Equal(t, KindUniqueness, suite.Tests[1].Kind.Canonical())
}

func TestParseSuiteJSONKinds(t *testing.T) {
	doc := `
name: s
connection: c
tests:
  - name: payload_has_id
    kind: json_path_exists
    dataset: A.B.C
    path: $.order.id
  - name: payload_id_type
    kind: json_type_check
    dataset: A.B.C
    path: $.order.id
    json_type: VARCHAR
`
	suite, err := ParseSuite([]byte(doc))
	require.NoError(t, err)
	assert.True(t, suite.Tests[0].Kind.IsJSON())
	assert.Equal(t, "VARCHAR", suite.Tests[1].JSONType)

	missingType := `
name: s
connection: c
tests:
  - name: t
    kind: json_type_check
    dataset: A.B.C
    path: $.x
`
	_, err = ParseSuite([]byte(missingType))
	assert.ErrorContains(t, err, "json_type")
}
