package catalog

import (
	"fmt"
	"strings"

	"github.com/dataflowguard/dto/internal/dsl"
)

// Profile selects how aggressive test proposals are.
const (
	ProfileQuick    = "quick"
	ProfileStandard = "standard"
	ProfileDeep     = "deep"
)

// Proposal is one suggested test with the planner's reasoning attached.
type Proposal struct {
	Test           dsl.TestDefinition `json:"test"`
	Rationale      string             `json:"rationale"`
	Confidence     float64            `json:"confidence"`
	AutoApprovable bool               `json:"auto_approvable"`
}

// ProposeTests derives heuristic test proposals from catalog metadata.
// datasets narrows the scope; empty means every dataset in the package.
// Proposals lean on declared primary keys and watermark columns, falling
// back to layer conventions read from the dataset name.
func ProposeTests(pkg *Package, datasets []string, profile string) []Proposal {
	if profile == "" {
		profile = ProfileStandard
	}

	targets := pkg.Datasets
	if len(datasets) > 0 {
		targets = targets[:0:0]
		for _, name := range datasets {
			if ds, ok := pkg.FindDataset(name); ok {
				targets = append(targets, ds)
			}
		}
	}

	var proposals []Proposal
	for _, ds := range targets {
		proposals = append(proposals, proposeForDataset(ds, profile)...)
	}
	return proposals
}

func proposeForDataset(ds Dataset, profile string) []Proposal {
	var out []Proposal
	slug := datasetSlug(ds.Name)
	standardOrDeep := profile == ProfileStandard || profile == ProfileDeep

	if len(ds.PrimaryKey) > 0 {
		out = append(out, Proposal{
			Test: dsl.TestDefinition{
				Name:     "pk_uniqueness_" + slug,
				Kind:     dsl.KindUniqueness,
				Dataset:  ds.Name,
				Keys:     ds.PrimaryKey,
				Severity: "blocker",
				Gate:     "fail",
			},
			Rationale:      "Primary key uniqueness is critical for data integrity",
			Confidence:     0.95,
			AutoApprovable: standardOrDeep,
		})
		for _, key := range ds.PrimaryKey {
			out = append(out, Proposal{
				Test: dsl.TestDefinition{
					Name:     fmt.Sprintf("not_null_%s_%s", strings.ToLower(key), slug),
					Kind:     dsl.KindNotNull,
					Dataset:  ds.Name,
					Column:   key,
					Severity: "blocker",
					Gate:     "fail",
				},
				Rationale:      "Key columns should never be null",
				Confidence:     0.90,
				AutoApprovable: standardOrDeep,
			})
		}
	}

	if ds.WatermarkColumn != "" && standardOrDeep {
		out = append(out, Proposal{
			Test: dsl.TestDefinition{
				Name:     "freshness_" + slug,
				Kind:     dsl.KindFreshness,
				Dataset:  ds.Name,
				Column:   ds.WatermarkColumn,
				Window:   &dsl.Window{LastHours: 24},
				Severity: "major",
				Gate:     "warn",
			},
			Rationale:      "Data should be fresh within SLA",
			Confidence:     0.80,
			AutoApprovable: false,
		})
	}

	switch detectLayer(ds.Name) {
	case "PREP", "MART":
		if len(ds.Columns) > 0 {
			expected := make([]string, len(ds.Columns))
			for i, col := range ds.Columns {
				expected[i] = col.Name
			}
			out = append(out, Proposal{
				Test: dsl.TestDefinition{
					Name:            "schema_contract_" + slug,
					Kind:            dsl.KindSchema,
					Dataset:         ds.Name,
					ExpectedColumns: expected,
					Severity:        "blocker",
					Gate:            "fail",
				},
				Rationale:      "Schema should match expected contract",
				Confidence:     0.95,
				AutoApprovable: true,
			})
		}
		for _, fk := range ds.ForeignKeys {
			out = append(out, Proposal{
				Test: dsl.TestDefinition{
					Name:       fmt.Sprintf("fk_integrity_%s_%s", strings.ToLower(strings.Join(fk.Columns, "_")), slug),
					Kind:       dsl.KindReconciliation,
					Dataset:    ds.Name,
					Expression: fmt.Sprintf("%s references %s", strings.Join(fk.Columns, ", "), fk.Ref),
					Severity:   "major",
					Gate:       "fail",
				},
				Rationale:      "Foreign key references should be valid",
				Confidence:     0.80,
				AutoApprovable: false,
			})
		}
	}

	if profile == ProfileDeep {
		minRows := int64(1)
		out = append(out, Proposal{
			Test: dsl.TestDefinition{
				Name:     "row_count_" + slug,
				Kind:     dsl.KindRowCount,
				Dataset:  ds.Name,
				MinRows:  &minRows,
				Severity: "major",
				Gate:     "warn",
			},
			Rationale:      "Row count should stay within the expected range",
			Confidence:     0.70,
			AutoApprovable: false,
		})
	}

	return out
}

// detectLayer reads the warehouse layer convention out of a dataset name.
func detectLayer(name string) string {
	upper := strings.ToUpper(name)
	parts := strings.Split(upper, ".")
	// The schema segment carries the layer for db.schema.table names.
	schema := parts[0]
	if len(parts) == 3 {
		schema = parts[1]
	}
	switch {
	case strings.HasPrefix(schema, "RAW"):
		return "RAW"
	case strings.HasPrefix(schema, "PREP"), strings.HasPrefix(schema, "STAGE"):
		return "PREP"
	case strings.HasPrefix(schema, "MART"), strings.HasPrefix(schema, "DIM"), strings.HasPrefix(schema, "FACT"):
		return "MART"
	}
	return "UNKNOWN"
}

func datasetSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, ".", "_"))
}
