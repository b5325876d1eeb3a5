package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dataflowguard/dto/internal/dsl"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GenerateSQL lowers an IR into exactly one Snowflake statement. All
// identifiers are validated against the conservative ASCII grammar and
// upper-cased; JSON path literals are quote-escaped. The function is pure.
func GenerateSQL(ir IR) (string, error) {
	table, err := qualifiedName(ir.Dataset)
	if err != nil {
		return "", err
	}

	where, err := renderFilters(ir.Filters)
	if err != nil {
		return "", err
	}

	a := ir.Assertion
	switch a.Kind {
	case AssertRowCountRange:
		return "SELECT COUNT(*) AS ROW_COUNT FROM " + table + where, nil

	case AssertNotNull:
		col, err := ident(a.Column)
		if err != nil {
			return "", err
		}
		clause := " WHERE " + col + " IS NULL"
		if where != "" {
			clause += " AND" + strings.TrimPrefix(where, " WHERE")
		}
		return "SELECT COUNT(*) AS NULL_COUNT FROM " + table + clause, nil

	case AssertUniqueness:
		if len(a.Keys) == 0 {
			return "", fmt.Errorf("uniqueness assertion has no keys")
		}
		keys := make([]string, len(a.Keys))
		for i, k := range a.Keys {
			if keys[i], err = ident(k); err != nil {
				return "", err
			}
		}
		keyList := strings.Join(keys, ", ")
		return fmt.Sprintf(
			"SELECT %s, COUNT(*) AS DUPLICATE_COUNT FROM %s%s GROUP BY %s HAVING COUNT(*) > 1",
			keyList, table, where, keyList), nil

	case AssertFreshness:
		col, err := ident(a.Column)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT MAX(%[1]s) AS MAX_TS, CURRENT_TIMESTAMP() AS NOW, "+
				"DATEDIFF('hour', MAX(%[1]s), CURRENT_TIMESTAMP()) AS HOURS_LAG FROM %[2]s%[3]s",
			col, table, where), nil

	case AssertRule:
		left, err := ident(a.Left)
		if err != nil {
			return "", err
		}
		diff := fmt.Sprintf("ABS(%s - (%s))", left, a.Expr)
		clause := fmt.Sprintf(" WHERE %s > %g", diff, a.Tolerance)
		if where != "" {
			clause += " AND" + strings.TrimPrefix(where, " WHERE")
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) AS VIOLATIONS, AVG(%s) AS AVG_DIFF FROM %s%s",
			diff, table, clause), nil

	case AssertSchema:
		return schemaQuery(ir.Dataset)

	case AssertJSONPathExists:
		path, payload, err := jsonParts(a)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) AS TOTAL_ROWS, "+
				"COUNT_IF(GET_PATH(%[1]s, %[2]s) IS NOT NULL) AS PRESENT_COUNT, "+
				"COUNT_IF(GET_PATH(%[1]s, %[2]s) IS NULL) AS MISSING_COUNT FROM %[3]s%[4]s",
			payload, path, table, where), nil

	case AssertJSONArrayFlatten:
		path, payload, err := jsonParts(a)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"WITH SRC AS (SELECT COUNT(*) AS SOURCE_COUNT FROM %[1]s%[2]s), "+
				"FLAT AS (SELECT COUNT(*) AS FLATTENED_COUNT FROM %[1]s, "+
				"LATERAL FLATTEN(INPUT => GET_PATH(%[3]s, %[4]s)) F%[2]s) "+
				"SELECT SRC.SOURCE_COUNT, FLAT.FLATTENED_COUNT, "+
				"ABS(FLAT.FLATTENED_COUNT - SRC.SOURCE_COUNT) AS CARDINALITY_DIFF FROM SRC, FLAT",
			table, where, payload, path), nil

	case AssertJSONTypeCheck:
		path, payload, err := jsonParts(a)
		if err != nil {
			return "", err
		}
		if a.Type == "" {
			return "", fmt.Errorf("json_type_check assertion has no type")
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) AS TOTAL_ROWS, "+
				"COUNT_IF(TYPEOF(GET_PATH(%[1]s, %[2]s)) != %[3]s) AS WRONG_TYPE_COUNT FROM %[4]s%[5]s",
			payload, path, stringLiteral(a.Type), table, where), nil

	case AssertJSONUniqueness:
		path, payload, err := jsonParts(a)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT GET_PATH(%[1]s, %[2]s) AS KEY_VALUE, COUNT(*) AS DUPLICATE_COUNT "+
				"FROM %[3]s%[4]s GROUP BY KEY_VALUE HAVING COUNT(*) > 1",
			payload, path, table, where), nil

	case AssertJSONMappingEquivalence:
		path, payload, err := jsonParts(a)
		if err != nil {
			return "", err
		}
		col, err := ident(a.Column)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) AS TOTAL_ROWS, "+
				"COUNT_IF(TO_VARCHAR(%[1]s) IS DISTINCT FROM TO_VARCHAR(GET_PATH(%[2]s, %[3]s))) "+
				"AS MISMATCHED_ROWS FROM %[4]s%[5]s",
			col, payload, path, table, where), nil

	case AssertJSONValidity:
		payload, err := ident(orDefault(a.PayloadColumn, "PAYLOAD"))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) AS TOTAL_ROWS, "+
				"COUNT_IF(TRY_PARSE_JSON(TO_VARCHAR(%s)) IS NULL) AS INVALID_COUNT FROM %s%s",
			payload, table, where), nil

	default:
		return "", fmt.Errorf("no SQL lowering for assertion kind %q", a.Kind)
	}
}

// schemaQuery resolves db.schema.table, schema.table, or a bare table name
// into an INFORMATION_SCHEMA.COLUMNS lookup, falling back to the session's
// current database and schema for the missing parts.
func schemaQuery(dataset string) (string, error) {
	parts := strings.Split(strings.ToUpper(dataset), ".")
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return "", fmt.Errorf("invalid identifier %q in dataset %q", p, dataset)
		}
	}

	var from, schemaClause, tableName string
	switch len(parts) {
	case 3:
		from = parts[0] + ".INFORMATION_SCHEMA.COLUMNS"
		schemaClause = "TABLE_SCHEMA = " + stringLiteral(parts[1]) + " AND "
		tableName = parts[2]
	case 2:
		from = "INFORMATION_SCHEMA.COLUMNS"
		schemaClause = "TABLE_SCHEMA = " + stringLiteral(parts[0]) + " AND "
		tableName = parts[1]
	case 1:
		from = "INFORMATION_SCHEMA.COLUMNS"
		tableName = parts[0]
	default:
		return "", fmt.Errorf("dataset %q has too many name parts", dataset)
	}

	return fmt.Sprintf(
		"SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM %s WHERE %sTABLE_NAME = %s ORDER BY ORDINAL_POSITION",
		from, schemaClause, stringLiteral(tableName)), nil
}

func renderFilters(filters []dsl.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		col, err := ident(f.Column)
		if err != nil {
			return "", err
		}

		switch strings.ToLower(f.Op) {
		case "is null":
			clauses = append(clauses, col+" IS NULL")
		case "is not null":
			clauses = append(clauses, col+" IS NOT NULL")
		case "in":
			values, ok := f.Value.([]any)
			if !ok || len(values) == 0 {
				return "", fmt.Errorf("filter on %s: IN requires a non-empty list", col)
			}
			rendered := make([]string, len(values))
			for i, v := range values {
				lit, err := literal(v)
				if err != nil {
					return "", fmt.Errorf("filter on %s: %w", col, err)
				}
				rendered[i] = lit
			}
			clauses = append(clauses, col+" IN ("+strings.Join(rendered, ", ")+")")
		case "=", "!=", "<", "<=", ">", ">=":
			lit, err := literal(f.Value)
			if err != nil {
				return "", fmt.Errorf("filter on %s: %w", col, err)
			}
			clauses = append(clauses, col+" "+f.Op+" "+lit)
		default:
			return "", fmt.Errorf("filter on %s: unsupported op %q", col, f.Op)
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func literal(v any) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", fmt.Errorf("comparison value is required")
	case string:
		return stringLiteral(value), nil
	case bool:
		if value {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", value), nil
	case float32, float64:
		return fmt.Sprintf("%g", value), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

func stringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func ident(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return strings.ToUpper(name), nil
}

func qualifiedName(dataset string) (string, error) {
	parts := strings.Split(dataset, ".")
	if len(parts) < 1 || len(parts) > 3 {
		return "", fmt.Errorf("dataset %q must be table, schema.table, or db.schema.table", dataset)
	}
	upper := make([]string, len(parts))
	for i, p := range parts {
		q, err := ident(p)
		if err != nil {
			return "", fmt.Errorf("dataset %q: %w", dataset, err)
		}
		upper[i] = q
	}
	return strings.Join(upper, "."), nil
}

// jsonParts validates the payload column and escapes the JSON path for use
// as a string literal.
func jsonParts(a Assertion) (path, payload string, err error) {
	if a.Path == "" {
		return "", "", fmt.Errorf("%s assertion has no path", a.Kind)
	}
	payload, err = ident(orDefault(a.PayloadColumn, "PAYLOAD"))
	if err != nil {
		return "", "", err
	}
	return stringLiteral(normalizeJSONPath(a.Path)), payload, nil
}

// normalizeJSONPath strips a leading "$." so GET_PATH receives the bare
// dotted path Snowflake expects.
func normalizeJSONPath(path string) string {
	if strings.HasPrefix(path, "$.") {
		return path[2:]
	}
	return strings.TrimPrefix(path, "$")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
