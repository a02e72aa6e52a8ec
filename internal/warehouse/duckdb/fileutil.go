package duckdb

import (
	"fmt"
	"io"
	"os"
)

// writeFile streams reader to path, surfacing close errors so a short
// write cannot leave a truncated parquet file behind silently.
func writeFile(path string, reader io.Reader) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	if _, err = io.Copy(file, reader); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
