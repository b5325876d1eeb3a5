package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ImportPackage parses a raw catalog package (JSON or YAML), stamps the
// environment, computes content signatures, and returns non-fatal warnings
// about structural gaps the test planner cares about.
func ImportPackage(raw []byte, environment string) (*Package, []string, error) {
	var pkg Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		if yerr := yaml.Unmarshal(raw, &pkg); yerr != nil {
			return nil, nil, fmt.Errorf("catalog package is neither valid JSON nor YAML: %w", err)
		}
	}

	if len(pkg.Datasets) == 0 {
		return nil, nil, fmt.Errorf("catalog package contains no datasets")
	}

	var warnings []string
	seen := make(map[string]struct{}, len(pkg.Datasets))
	for i, ds := range pkg.Datasets {
		if ds.Name == "" {
			return nil, nil, fmt.Errorf("dataset %d: name is required", i)
		}
		key := strings.ToUpper(ds.Name)
		if _, dup := seen[key]; dup {
			return nil, nil, fmt.Errorf("dataset %q appears more than once", ds.Name)
		}
		seen[key] = struct{}{}

		if len(ds.Columns) == 0 {
			warnings = append(warnings, fmt.Sprintf("dataset %s has no columns", ds.Name))
		}
		if len(ds.PrimaryKey) == 0 {
			warnings = append(warnings, fmt.Sprintf("dataset %s has no primary key; uniqueness proposals unavailable", ds.Name))
		}
		if ds.WatermarkColumn == "" {
			warnings = append(warnings, fmt.Sprintf("dataset %s has no watermark column; freshness proposals unavailable", ds.Name))
		}
	}

	if environment != "" {
		pkg.Environment = environment
	}
	if pkg.GeneratedAt.IsZero() {
		pkg.GeneratedAt = time.Now().UTC()
	}
	pkg.Signatures = BuildSignatures(pkg.Datasets)

	return &pkg, warnings, nil
}
