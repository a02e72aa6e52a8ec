package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	ProjectID        string
	ProjectName      string
	WarehouseProject string
	Dataset          string
	Endpoint         string
	Region           string
	Bucket           string
	AccessKey        string
	SecretKey        string
	UseSSL           bool
	Prefix           string
	CustomerCount    int
	OrderCount       int
	Seed             int64
}

func DefaultConfig() Config {
	return Config{
		ProjectID:        "demo",
		ProjectName:      "Demo Analytics",
		WarehouseProject: "demo-warehouse",
		Dataset:          "sales",
		Endpoint:         "localhost:9000",
		Region:           "us-east-1",
		Bucket:           "insightql",
		AccessKey:        "minioadmin",
		SecretKey:        "minioadmin",
		UseSSL:           false,
		CustomerCount:    50,
		OrderCount:       500,
		Seed:             time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "INSIGHTQL_SEED_PROJECT_ID", &cfg.ProjectID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_PROJECT_NAME", &cfg.ProjectName); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_WAREHOUSE_PROJECT", &cfg.WarehouseProject); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_DATASET", &cfg.Dataset); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_S3_ENDPOINT", &cfg.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_S3_REGION", &cfg.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_S3_BUCKET", &cfg.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_S3_ACCESS_KEY", &cfg.AccessKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_S3_SECRET_KEY", &cfg.SecretKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "INSIGHTQL_SEED_S3_USE_SSL", &cfg.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "INSIGHTQL_SEED_S3_PREFIX", &cfg.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "INSIGHTQL_SEED_CUSTOMER_COUNT", &cfg.CustomerCount); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "INSIGHTQL_SEED_ORDER_COUNT", &cfg.OrderCount); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "INSIGHTQL_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.ProjectID) == "" {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_PROJECT_ID is required")
	}
	if strings.TrimSpace(cfg.WarehouseProject) == "" {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_WAREHOUSE_PROJECT is required")
	}
	if strings.TrimSpace(cfg.Dataset) == "" {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_DATASET is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_S3_ENDPOINT is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_S3_BUCKET is required")
	}
	if cfg.CustomerCount <= 0 {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_CUSTOMER_COUNT must be > 0")
	}
	if cfg.OrderCount <= 0 {
		return Config{}, fmt.Errorf("INSIGHTQL_SEED_ORDER_COUNT must be > 0")
	}

	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
