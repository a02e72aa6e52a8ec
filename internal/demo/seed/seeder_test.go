package seed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/parquet-go/parquet-go"

	"github.com/insightql/insightql/internal/storage"
)

type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) List(_ context.Context, _ string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func testSeedConfig() Config {
	cfg := DefaultConfig()
	cfg.ProjectID = "acme"
	cfg.WarehouseProject = "acme-wh"
	cfg.Dataset = "sales"
	cfg.CustomerCount = 5
	cfg.OrderCount = 12
	cfg.Seed = 42
	return cfg
}

func TestRunWritesTablesAndRegistersProject(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO projects")).
		WithArgs("acme", "Demo Analytics", "acme-wh", "sales", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO global_instructions")).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_memory")).
		WithArgs("seed-revenue", "acme", "definition", "revenue", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	objects := newFakeObjectStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service, err := NewService(testSeedConfig(), logger, objects, db)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if err := service.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ordersKey := "acme-wh/sales/orders/part-00000.parquet"
	customersKey := "acme-wh/sales/customers/part-00000.parquet"
	if _, ok := objects.objects[customersKey]; !ok {
		t.Fatalf("missing object %q", customersKey)
	}
	data, ok := objects.objects[ordersKey]
	if !ok {
		t.Fatalf("missing object %q", ordersKey)
	}

	reader := parquet.NewGenericReader[OrderRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]OrderRow, 12)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 12 {
		t.Fatalf("read rows = %d, want 12", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewService(testSeedConfig(), logger, newFakeObjectStore(), nil); err == nil {
		t.Fatalf("NewService() expected error for nil db")
	}
}
