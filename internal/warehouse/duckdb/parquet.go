package duckdb

import (
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/insightql/insightql/internal/store"
)

func openParquet(reader io.ReaderAt, size int64) (*parquet.File, error) {
	return parquet.OpenFile(reader, size)
}

// columnsFromParquet maps the file's leaf fields onto schema cache
// columns, preserving field order.
func columnsFromParquet(file *parquet.File) []store.ColumnInfo {
	fields := file.Schema().Fields()
	columns := make([]store.ColumnInfo, 0, len(fields))
	for _, field := range fields {
		mode := "REQUIRED"
		if field.Optional() {
			mode = "NULLABLE"
		}
		columns = append(columns, store.ColumnInfo{
			Name: field.Name(),
			Type: parquetTypeName(field),
			Mode: mode,
		})
	}
	return columns
}

func parquetTypeName(field parquet.Field) string {
	if !field.Leaf() {
		return "RECORD"
	}
	fieldType := field.Type()
	if lt := fieldType.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return "STRING"
		case lt.Date != nil:
			return "DATE"
		case lt.Timestamp != nil:
			return "TIMESTAMP"
		case lt.Time != nil:
			return "TIME"
		case lt.Decimal != nil:
			return "NUMERIC"
		case lt.Integer != nil:
			return "INTEGER"
		case lt.Json != nil:
			return "STRING"
		case lt.UUID != nil:
			return "STRING"
		}
	}
	switch fieldType.Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32, parquet.Int64, parquet.Int96:
		return "INTEGER"
	case parquet.Float, parquet.Double:
		return "FLOAT"
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return "STRING"
	default:
		return "STRING"
	}
}
