// Package catalog models the Catalog Package: the authoritative metadata
// bundle listing datasets, columns, keys, and lineage, with a stable
// per-dataset content signature.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column describes one column of a dataset.
type Column struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Nullable    bool   `json:"nullable" yaml:"nullable"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ForeignKey references another dataset, e.g. "DIM.CUSTOMER(CUSTOMER_ID)".
type ForeignKey struct {
	Columns []string `json:"columns" yaml:"columns"`
	Ref     string   `json:"ref" yaml:"ref"`
}

// Dataset is a table or view with its structural metadata.
type Dataset struct {
	Name             string       `json:"name" yaml:"name"`
	Kind             string       `json:"kind" yaml:"kind"`
	RowCountEstimate int64        `json:"row_count_estimate,omitempty" yaml:"row_count_estimate,omitempty"`
	Columns          []Column     `json:"columns" yaml:"columns"`
	PrimaryKey       []string     `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	ForeignKeys      []ForeignKey `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
	WatermarkColumn  string       `json:"watermark_column,omitempty" yaml:"watermark_column,omitempty"`
	Lineage          []string     `json:"lineage,omitempty" yaml:"lineage,omitempty"`
}

// Package is a versioned catalog snapshot for one environment.
type Package struct {
	Version     string            `json:"version" yaml:"version"`
	GeneratedAt time.Time         `json:"generated_at" yaml:"generated_at"`
	Environment string            `json:"environment" yaml:"environment"`
	Datasets    []Dataset         `json:"datasets" yaml:"datasets"`
	Signatures  map[string]string `json:"signatures" yaml:"signatures"`
}

// Diff describes structural changes between two catalog versions.
type Diff struct {
	AddedDatasets    []string            `json:"added_datasets"`
	RemovedDatasets  []string            `json:"removed_datasets"`
	ModifiedDatasets []string            `json:"modified_datasets"`
	AddedColumns     map[string][]string `json:"added_columns"`
	RemovedColumns   map[string][]string `json:"removed_columns"`
}

// Signature computes the SHA-256 content signature of a dataset: the
// columns sorted by name, each rendered as name:type:nullable, joined by
// "|". Column order in the source never affects the result.
func Signature(ds Dataset) string {
	cols := make([]Column, len(ds.Columns))
	copy(cols, ds.Columns)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })

	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s:%s:%t", col.Name, col.Type, col.Nullable)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// BuildSignatures computes signatures for every dataset in the package.
func BuildSignatures(datasets []Dataset) map[string]string {
	signatures := make(map[string]string, len(datasets))
	for _, ds := range datasets {
		signatures[ds.Name] = Signature(ds)
	}
	return signatures
}

// FindDataset returns the named dataset, or false when absent.
func (p *Package) FindDataset(name string) (Dataset, bool) {
	for _, ds := range p.Datasets {
		if strings.EqualFold(ds.Name, name) {
			return ds, true
		}
	}
	return Dataset{}, false
}

// DiffPackages compares two catalog snapshots. Modification is detected
// via content signatures, so column reordering is not a change.
func DiffPackages(prev, cur *Package) Diff {
	diff := Diff{
		AddedColumns:   make(map[string][]string),
		RemovedColumns: make(map[string][]string),
	}

	prevSets := indexDatasets(prev.Datasets)
	curSets := indexDatasets(cur.Datasets)

	for name := range curSets {
		if _, ok := prevSets[name]; !ok {
			diff.AddedDatasets = append(diff.AddedDatasets, name)
		}
	}
	for name := range prevSets {
		if _, ok := curSets[name]; !ok {
			diff.RemovedDatasets = append(diff.RemovedDatasets, name)
		}
	}

	for name, curDS := range curSets {
		prevDS, ok := prevSets[name]
		if !ok {
			continue
		}
		if Signature(prevDS) == Signature(curDS) {
			continue
		}
		diff.ModifiedDatasets = append(diff.ModifiedDatasets, name)

		prevCols := columnNames(prevDS)
		curCols := columnNames(curDS)
		for col := range curCols {
			if _, ok := prevCols[col]; !ok {
				diff.AddedColumns[name] = append(diff.AddedColumns[name], col)
			}
		}
		for col := range prevCols {
			if _, ok := curCols[col]; !ok {
				diff.RemovedColumns[name] = append(diff.RemovedColumns[name], col)
			}
		}
	}

	sort.Strings(diff.AddedDatasets)
	sort.Strings(diff.RemovedDatasets)
	sort.Strings(diff.ModifiedDatasets)
	for _, cols := range diff.AddedColumns {
		sort.Strings(cols)
	}
	for _, cols := range diff.RemovedColumns {
		sort.Strings(cols)
	}
	return diff
}

func indexDatasets(datasets []Dataset) map[string]Dataset {
	index := make(map[string]Dataset, len(datasets))
	for _, ds := range datasets {
		index[ds.Name] = ds
	}
	return index
}

func columnNames(ds Dataset) map[string]struct{} {
	names := make(map[string]struct{}, len(ds.Columns))
	for _, col := range ds.Columns {
		names[col.Name] = struct{}{}
	}
	return names
}
