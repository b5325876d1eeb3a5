package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ordersDataset() Dataset {
	return Dataset{
		Name: "PROD.RAW.ORDERS",
		Kind: "table",
		Columns: []Column{
			{Name: "ORDER_ID", Type: "NUMBER", Nullable: false},
			{Name: "CUSTOMER_ID", Type: "NUMBER", Nullable: false},
			{Name: "AMOUNT", Type: "NUMBER", Nullable: true},
		},
		PrimaryKey: []string{"ORDER_ID"},
	}
}

func TestSignatureIsOrderIndependent(t *testing.T) {
	ds := ordersDataset()

	shuffled := ds
	shuffled.Columns = []Column{ds.Columns[2], ds.Columns[0], ds.Columns[1]}

	assert.Equal(t, Signature(ds), Signature(shuffled))
}

func TestSignatureChangesWithContent(t *testing.T) {
	ds := ordersDataset()
	base := Signature(ds)

	renamed := ordersDataset()
	renamed.Columns[2].Name = "TOTAL_AMOUNT"
	assert.NotEqual(t, base, Signature(renamed))

	retyped := ordersDataset()
	retyped.Columns[2].Type = "FLOAT"
	assert.NotEqual(t, base, Signature(retyped))

	relaxed := ordersDataset()
	relaxed.Columns[0].Nullable = true
	assert.NotEqual(t, base, Signature(relaxed))
}

func TestSignatureIgnoresNonStructuralFields(t *testing.T) {
	ds := ordersDataset()
	base := Signature(ds)

	documented := ordersDataset()
	documented.Columns[0].Description = "surrogate key"
	documented.RowCountEstimate = 123456
	assert.Equal(t, base, Signature(documented))
}

func TestBuildSignatures(t *testing.T) {
	sigs := BuildSignatures([]Dataset{ordersDataset()})
	require.Len(t, sigs, 1)
	assert.Equal(t, Signature(ordersDataset()), sigs["PROD.RAW.ORDERS"])
}

func TestFindDatasetIsCaseInsensitive(t *testing.T) {
	pkg := &Package{Datasets: []Dataset{ordersDataset()}}

	ds, ok := pkg.FindDataset("prod.raw.orders")
	require.True(t, ok)
	assert.Equal(t, "PROD.RAW.ORDERS", ds.Name)

	_, ok = pkg.FindDataset("PROD.RAW.MISSING")
	assert.False(t, ok)
}

func TestDiffPackages(t *testing.T) {
	prev := &Package{Version: "v1", Datasets: []Dataset{ordersDataset()}}

	changed := ordersDataset()
	changed.Columns = append(changed.Columns[:2], Column{Name: "STATUS", Type: "VARCHAR", Nullable: true})
	cur := &Package{
		Version: "v2",
		Datasets: []Dataset{
			changed,
			{Name: "PROD.MART.SALES", Kind: "view", Columns: []Column{{Name: "ID", Type: "NUMBER"}}},
		},
	}

	diff := DiffPackages(prev, cur)

	assert.Equal(t, []string{"PROD.MART.SALES"}, diff.AddedDatasets)
	assert.Empty(t, diff.RemovedDatasets)
	assert.Equal(t, []string{"PROD.RAW.ORDERS"}, diff.ModifiedDatasets)
	assert.Equal(t, []string{"STATUS"}, diff.AddedColumns["PROD.RAW.ORDERS"])
	assert.Equal(t, []string{"AMOUNT"}, diff.RemovedColumns["PROD.RAW.ORDERS"])
}

func TestDiffPackagesIgnoresColumnReordering(t *testing.T) {
	prev := &Package{Datasets: []Dataset{ordersDataset()}}

	reordered := ordersDataset()
	reordered.Columns = []Column{reordered.Columns[1], reordered.Columns[2], reordered.Columns[0]}
	cur := &Package{Datasets: []Dataset{reordered}}

	diff := DiffPackages(prev, cur)
	assert.Empty(t, diff.ModifiedDatasets)
	assert.Empty(t, diff.AddedDatasets)
	assert.Empty(t, diff.RemovedDatasets)
}
