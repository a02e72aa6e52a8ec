package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// DatasetPrefix builds the object-store prefix that holds every table of a
// warehouse dataset: <warehouse_project>/<dataset>/.
func DatasetPrefix(warehouseProject, dataset string) (string, error) {
	if err := validatePathComponent(warehouseProject, "warehouse project"); err != nil {
		return "", err
	}
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	return path.Join(warehouseProject, dataset) + "/", nil
}

// TableDataFilePath builds the key for one data file of a table inside a
// dataset: <warehouse_project>/<dataset>/<table>/part-<sequence>.parquet.
func TableDataFilePath(warehouseProject, dataset, tableName string, sequence int) (string, error) {
	prefix, err := DatasetPrefix(warehouseProject, dataset)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return path.Join(prefix, tableName, fmt.Sprintf("part-%05d.parquet", sequence)), nil
}

// TableFromKey extracts the table name from an object key beneath a dataset
// prefix. Returns false for keys outside the prefix or without a table segment.
func TableFromKey(datasetPrefix, key string) (string, bool) {
	if !strings.HasPrefix(key, datasetPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, datasetPrefix)
	table, _, found := strings.Cut(rest, "/")
	if !found || table == "" {
		return "", false
	}
	return table, true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
