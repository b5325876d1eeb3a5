package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowguard/dto/internal/dsl"
)

func plannerPackage() *Package {
	return &Package{
		Version:     "1",
		Environment: "prod",
		Datasets: []Dataset{
			{
				Name: "PROD.RAW.ORDERS",
				Kind: "table",
				Columns: []Column{
					{Name: "ORDER_ID", Type: "NUMBER"},
					{Name: "ORDER_TS", Type: "TIMESTAMP_NTZ"},
				},
				PrimaryKey:      []string{"ORDER_ID"},
				WatermarkColumn: "ORDER_TS",
			},
			{
				Name: "PROD.MART.FCT_ORDERS",
				Kind: "table",
				Columns: []Column{
					{Name: "ORDER_ID", Type: "NUMBER"},
					{Name: "CUSTOMER_ID", Type: "NUMBER"},
				},
				ForeignKeys: []ForeignKey{
					{Columns: []string{"CUSTOMER_ID"}, Ref: "PROD.MART.DIM_CUSTOMER(CUSTOMER_ID)"},
				},
			},
		},
	}
}

func byName(proposals []Proposal) map[string]Proposal {
	out := make(map[string]Proposal, len(proposals))
	for _, p := range proposals {
		out[p.Test.Name] = p
	}
	return out
}

func TestProposeRawDataset(t *testing.T) {
	proposals := ProposeTests(plannerPackage(), []string{"PROD.RAW.ORDERS"}, ProfileStandard)
	named := byName(proposals)

	pk, ok := named["pk_uniqueness_prod_raw_orders"]
	require.True(t, ok)
	assert.Equal(t, dsl.KindUniqueness, pk.Test.Kind)
	assert.Equal(t, []string{"ORDER_ID"}, pk.Test.Keys)
	assert.Equal(t, "blocker", pk.Test.Severity)
	assert.True(t, pk.AutoApprovable)

	nn, ok := named["not_null_order_id_prod_raw_orders"]
	require.True(t, ok)
	assert.Equal(t, "ORDER_ID", nn.Test.Column)

	fresh, ok := named["freshness_prod_raw_orders"]
	require.True(t, ok)
	require.NotNil(t, fresh.Test.Window)
	assert.EqualValues(t, 24, fresh.Test.Window.LastHours)
	assert.Equal(t, "ORDER_TS", fresh.Test.Column)
	assert.False(t, fresh.AutoApprovable, "freshness needs SLA confirmation")
}

func TestProposeMartDataset(t *testing.T) {
	proposals := ProposeTests(plannerPackage(), []string{"PROD.MART.FCT_ORDERS"}, ProfileStandard)
	named := byName(proposals)

	schema, ok := named["schema_contract_prod_mart_fct_orders"]
	require.True(t, ok)
	assert.Equal(t, []string{"ORDER_ID", "CUSTOMER_ID"}, schema.Test.ExpectedColumns)
	assert.True(t, schema.AutoApprovable)

	fk, ok := named["fk_integrity_customer_id_prod_mart_fct_orders"]
	require.True(t, ok)
	assert.Equal(t, dsl.KindReconciliation, fk.Test.Kind)
	assert.Contains(t, fk.Test.Expression, "DIM_CUSTOMER")
}

func TestProposeQuickProfileIsConservative(t *testing.T) {
	proposals := ProposeTests(plannerPackage(), []string{"PROD.RAW.ORDERS"}, ProfileQuick)
	named := byName(proposals)

	_, hasFreshness := named["freshness_prod_raw_orders"]
	assert.False(t, hasFreshness, "quick profile skips freshness")

	pk := named["pk_uniqueness_prod_raw_orders"]
	assert.False(t, pk.AutoApprovable, "quick profile never auto-approves")
}

func TestProposeDeepProfileAddsRowCount(t *testing.T) {
	proposals := ProposeTests(plannerPackage(), nil, ProfileDeep)
	named := byName(proposals)

	rc, ok := named["row_count_prod_raw_orders"]
	require.True(t, ok)
	require.NotNil(t, rc.Test.MinRows)
	assert.EqualValues(t, 1, *rc.Test.MinRows)

	// All datasets covered when no filter is given.
	_, ok = named["row_count_prod_mart_fct_orders"]
	assert.True(t, ok)
}

func TestProposeUnknownDatasetYieldsNothing(t *testing.T) {
	proposals := ProposeTests(plannerPackage(), []string{"PROD.RAW.MISSING"}, ProfileStandard)
	assert.Empty(t, proposals)
}
