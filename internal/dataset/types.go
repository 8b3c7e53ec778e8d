package dataset

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
)

// CanonicalType maps a DuckDB type name onto the reduced type set used by
// the stores. Unknown and nested types fall back to VARCHAR.
func CanonicalType(duckType string) string {
	upper := strings.ToUpper(strings.TrimSpace(duckType))
	switch {
	case upper == "":
		return TypeVarchar
	case strings.HasPrefix(upper, "DECIMAL"), strings.HasPrefix(upper, "NUMERIC"):
		return TypeDouble
	case strings.HasPrefix(upper, "TIMESTAMP"), upper == "DATETIME":
		return TypeTimestamp
	}
	switch upper {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
		"INT1", "INT2", "INT4", "INT8", "LONG":
		return TypeBigInt
	case "FLOAT", "REAL", "DOUBLE", "FLOAT4", "FLOAT8":
		return TypeDouble
	case "BOOLEAN", "BOOL":
		return TypeBoolean
	case "DATE":
		return TypeDate
	default:
		return TypeVarchar
	}
}

// NormalizeValue converts a scanned DuckDB value into one of the cell types
// documented on Table.
func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(typed)
	case string, bool, float64, time.Time:
		return typed
	case int64:
		return typed
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case int:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		if typed > uint64(1<<63-1) {
			return fmt.Sprint(typed)
		}
		return int64(typed)
	case float32:
		return float64(typed)
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case duckdb.Decimal:
		return typed.Float64()
	case duckdb.Interval:
		return fmt.Sprintf("%d months %d days %dus", typed.Months, typed.Days, typed.Micros)
	default:
		return fmt.Sprint(typed)
	}
}

// NormalizeRow applies NormalizeValue to every value of a scanned row.
func NormalizeRow(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = NormalizeValue(value)
	}
	return normalized
}
