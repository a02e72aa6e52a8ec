// Package duckdb executes warehouse queries with an embedded DuckDB
// engine over a project's parquet dataset in object storage. Each
// executor is request scoped: the object store client and DuckDB
// session are built lazily from the project's stored credentials on
// first use and reused for subsequent calls on the same instance.
package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"golang.org/x/sync/errgroup"

	"github.com/insightql/insightql/internal/storage"
	"github.com/insightql/insightql/internal/storage/s3"
	"github.com/insightql/insightql/internal/store"
	"github.com/insightql/insightql/internal/warehouse"
)

// ProjectGetter resolves project configuration, including stored
// warehouse credentials.
type ProjectGetter interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
}

// credentialsDoc is the stored shape of a project's warehouse
// credentials.
type credentialsDoc struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	Prefix    string `json:"prefix"`
}

type Config struct {
	IntrospectionWorkers int
	ProbeTimeout         time.Duration
}

type Factory struct {
	projects ProjectGetter
	cfg      Config
	connect  func(credentialsDoc) (storage.ObjectStore, error)
}

func NewFactory(projects ProjectGetter, cfg Config) *Factory {
	if cfg.IntrospectionWorkers <= 0 {
		cfg.IntrospectionWorkers = 4
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &Factory{
		projects: projects,
		cfg:      cfg,
		connect: func(creds credentialsDoc) (storage.ObjectStore, error) {
			return s3.New(s3.Config{
				Endpoint:        creds.Endpoint,
				Region:          creds.Region,
				Bucket:          creds.Bucket,
				AccessKeyID:     creds.AccessKey,
				SecretAccessKey: creds.SecretKey,
				UseSSL:          creds.UseSSL,
				Prefix:          creds.Prefix,
			})
		},
	}
}

func (f *Factory) ExecutorFor(_ context.Context, projectID string) (warehouse.Executor, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	return &Executor{
		projects:  f.projects,
		projectID: projectID,
		cfg:       f.cfg,
		connect:   f.connect,
	}, nil
}

type Executor struct {
	projects  ProjectGetter
	projectID string
	cfg       Config
	connect   func(credentialsDoc) (storage.ObjectStore, error)

	mu   sync.Mutex
	sess *session
}

// session is the memoized per-request warehouse client.
type session struct {
	project      store.Project
	objects      storage.ObjectStore
	db           *sql.DB
	workDir      string
	mountedBytes int64
}

func (e *Executor) Execute(ctx context.Context, sqlText string, timeout time.Duration) (warehouse.Result, error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := e.acquire(ctx)
	if err != nil {
		return warehouse.Result{}, err
	}

	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return warehouse.Result{}, fmt.Errorf("sql is required")
	}

	rows, err := sess.db.QueryContext(ctx, statement)
	if err != nil {
		return warehouse.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columnNames, err := rows.Columns()
	if err != nil {
		return warehouse.Result{}, fmt.Errorf("query columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return warehouse.Result{}, fmt.Errorf("query column types: %w", err)
	}

	columns := make([]warehouse.ColumnMeta, len(columnNames))
	for i, name := range columnNames {
		columns[i] = warehouse.ColumnMeta{Name: name, Type: normalizeTypeName(columnTypes[i].DatabaseTypeName())}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		scanTargets := make([]any, len(columnNames))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return warehouse.Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columnNames))
		for i, name := range columnNames {
			row[name] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return warehouse.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return warehouse.Result{
		Rows:            resultRows,
		Columns:         columns,
		RowCount:        len(resultRows),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		BytesProcessed:  sess.mountedBytes,
	}, nil
}

func (e *Executor) DryRunValidate(ctx context.Context, sqlText string) (warehouse.DryRunResult, error) {
	sess, err := e.acquire(ctx)
	if err != nil {
		return warehouse.DryRunResult{}, err
	}

	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return warehouse.DryRunResult{Valid: false, Error: "sql is required"}, nil
	}

	rows, err := sess.db.QueryContext(ctx, "EXPLAIN "+statement)
	if err != nil {
		return warehouse.DryRunResult{Valid: false, Error: err.Error()}, nil
	}
	_ = rows.Close()

	return warehouse.DryRunResult{Valid: true, EstimatedBytes: sess.mountedBytes}, nil
}

func (e *Executor) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	sess, err := e.acquire(ctx)
	if err != nil {
		return false
	}
	var one int
	if err := sess.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return one == 1
}

// IntrospectSchema enumerates the dataset's parquet files and reads
// column metadata plus row/byte counts from their footers.
func (e *Executor) IntrospectSchema(ctx context.Context) (store.SchemaSnapshot, error) {
	sess, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	prefix, err := storage.DatasetPrefix(sess.project.WarehouseProject, sess.project.WarehouseDataset)
	if err != nil {
		return nil, fmt.Errorf("dataset prefix: %w", err)
	}
	objects, err := sess.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list dataset objects: %w", err)
	}

	grouped := map[string][]storage.ObjectInfo{}
	for _, object := range objects {
		table, ok := storage.TableFromKey(prefix, object.Key)
		if !ok {
			continue
		}
		grouped[table] = append(grouped[table], object)
	}

	var mu sync.Mutex
	snapshot := make(store.SchemaSnapshot, len(grouped))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.IntrospectionWorkers)
	for table, files := range grouped {
		group.Go(func() error {
			tableSchema, err := introspectTable(groupCtx, sess.objects, files)
			if err != nil {
				return fmt.Errorf("introspect table %q: %w", table, err)
			}
			mu.Lock()
			snapshot[table] = tableSchema
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	sess := e.sess
	e.sess = nil

	var firstErr error
	if sess.db != nil {
		if err := sess.db.Close(); err != nil {
			firstErr = fmt.Errorf("close duckdb: %w", err)
		}
	}
	if sess.workDir != "" {
		if err := os.RemoveAll(sess.workDir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove work dir: %w", err)
		}
	}
	return firstErr
}

func (e *Executor) acquire(ctx context.Context) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return e.sess, nil
	}

	project, err := e.projects.GetProject(ctx, e.projectID)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	if strings.TrimSpace(project.WarehouseProject) == "" || strings.TrimSpace(project.WarehouseDataset) == "" {
		return nil, fmt.Errorf("project %q: %w", e.projectID, warehouse.ErrNotConfigured)
	}
	if len(project.CredentialsJSON) == 0 {
		return nil, fmt.Errorf("project %q has no stored credentials: %w", e.projectID, warehouse.ErrNotConfigured)
	}

	var creds credentialsDoc
	if err := json.Unmarshal(project.CredentialsJSON, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	objects, err := e.connect(creds)
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	sess, err := mountDataset(ctx, project, objects)
	if err != nil {
		return nil, err
	}
	e.sess = sess
	return sess, nil
}

// mountDataset downloads the dataset's parquet files and exposes each
// table as a view under both its bare name and its fully qualified
// project.dataset name.
func mountDataset(ctx context.Context, project store.Project, objects storage.ObjectStore) (*session, error) {
	prefix, err := storage.DatasetPrefix(project.WarehouseProject, project.WarehouseDataset)
	if err != nil {
		return nil, fmt.Errorf("dataset prefix: %w", err)
	}
	listing, err := objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list dataset objects: %w", err)
	}

	workDir, err := os.MkdirTemp("", "insightql-query-")
	if err != nil {
		return nil, fmt.Errorf("create query temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	groupedPaths := map[string][]string{}
	var mountedBytes int64
	for index, object := range listing {
		table, ok := storage.TableFromKey(prefix, object.Key)
		if !ok {
			continue
		}
		reader, err := objects.Get(ctx, object.Key)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("get object %q: %w", object.Key, err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(table), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			cleanup()
			return nil, fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			cleanup()
			return nil, fmt.Errorf("close object %q: %w", object.Key, err)
		}
		groupedPaths[table] = append(groupedPaths[table], localPath)
		mountedBytes += object.Size
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	fail := func(err error) (*session, error) {
		_ = db.Close()
		cleanup()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "SET enable_object_cache = true"); err != nil {
		return fail(fmt.Errorf("enable object cache: %w", err))
	}
	if len(groupedPaths) > 0 {
		attachSQL := fmt.Sprintf("ATTACH ':memory:' AS %s", quoteIdent(project.WarehouseProject))
		if _, err := db.ExecContext(ctx, attachSQL); err != nil {
			return fail(fmt.Errorf("attach warehouse catalog: %w", err))
		}
		schemaSQL := fmt.Sprintf("CREATE SCHEMA %s.%s", quoteIdent(project.WarehouseProject), quoteIdent(project.WarehouseDataset))
		if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
			return fail(fmt.Errorf("create dataset schema: %w", err))
		}
	}

	tables := make([]string, 0, len(groupedPaths))
	for table := range groupedPaths {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		source := fmt.Sprintf("SELECT * FROM read_parquet(%s)", quoteStringArray(groupedPaths[table]))
		qualified := fmt.Sprintf("CREATE VIEW %s.%s.%s AS %s",
			quoteIdent(project.WarehouseProject), quoteIdent(project.WarehouseDataset), quoteIdent(table), source)
		if _, err := db.ExecContext(ctx, qualified); err != nil {
			return fail(fmt.Errorf("create view for table %q: %w", table, err))
		}
		bare := fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(table), source)
		if _, err := db.ExecContext(ctx, bare); err != nil {
			return fail(fmt.Errorf("create bare view for table %q: %w", table, err))
		}
	}

	return &session{
		project:      project,
		objects:      objects,
		db:           db,
		workDir:      workDir,
		mountedBytes: mountedBytes,
	}, nil
}

func introspectTable(ctx context.Context, objects storage.ObjectStore, files []storage.ObjectInfo) (store.TableSchema, error) {
	var tableSchema store.TableSchema
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return store.TableSchema{}, err
		}
		reader, err := objects.Get(ctx, file.Key)
		if err != nil {
			return store.TableSchema{}, fmt.Errorf("get object %q: %w", file.Key, err)
		}
		data, err := io.ReadAll(reader)
		_ = reader.Close()
		if err != nil {
			return store.TableSchema{}, fmt.Errorf("read object %q: %w", file.Key, err)
		}

		parquetFile, err := openParquet(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return store.TableSchema{}, fmt.Errorf("open parquet %q: %w", file.Key, err)
		}
		if i == 0 {
			tableSchema.Columns = columnsFromParquet(parquetFile)
		}
		tableSchema.RowCount += parquetFile.NumRows()
		tableSchema.SizeBytes += file.Size
	}
	return tableSchema, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

// normalizeTypeName maps DuckDB type names onto the stable set the
// chart heuristic and schema cache use.
func normalizeTypeName(duckdbType string) string {
	upper := strings.ToUpper(duckdbType)
	switch {
	case upper == "VARCHAR" || upper == "TEXT" || upper == "UUID" || strings.HasPrefix(upper, "ENUM"):
		return "STRING"
	case upper == "TINYINT" || upper == "SMALLINT" || upper == "INTEGER" || upper == "BIGINT" || upper == "HUGEINT" ||
		upper == "UTINYINT" || upper == "USMALLINT" || upper == "UINTEGER" || upper == "UBIGINT":
		return "INTEGER"
	case upper == "FLOAT" || upper == "REAL" || upper == "DOUBLE":
		return "FLOAT"
	case strings.HasPrefix(upper, "DECIMAL") || strings.HasPrefix(upper, "NUMERIC"):
		return "NUMERIC"
	case upper == "DATE":
		return "DATE"
	case strings.HasPrefix(upper, "TIMESTAMP"):
		return "TIMESTAMP"
	case upper == "TIME":
		return "TIME"
	case upper == "BOOLEAN":
		return "BOOLEAN"
	default:
		return upper
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
