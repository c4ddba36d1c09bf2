package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/documentmetadataflow/internal/gcp"
	"github.com/Lllllllleong/documentmetadataflow/internal/schema"
)

// StoreConfig locates the metadata record collection.
type StoreConfig struct {
	ProjectID         string
	FirestoreDatabase string
	CollectionName    string
}

// ExtractorConfig holds all configuration for the metadata extraction service.
type ExtractorConfig struct {
	Store                 StoreConfig
	TargetPathPrefix      string
	SupportedContentTypes []string
	OverwriteExisting     bool
	SchemaID              string
	SchemaFile            string
	VertexAIRegion        string
	ModelName             string
	Engine                EngineConfig
	LeaseTTL              time.Duration
	PreflightEnabled      bool
	PreflightMaxBytes     int64
	MetadataReadyTopicID  string
	ProcessingDeadline    time.Duration
}

// RefresherConfig holds all configuration for the datastore refresh service.
type RefresherConfig struct {
	Store               StoreConfig
	SchemaID            string
	SchemaFile          string
	StagingBucket       string
	StagingPrefix       string
	Segments            SegmentConfig
	IndexBackend        string
	DataStoreID         string
	DiscoveryLocation   string
	DiscoveryCollection string
	WaitForImport       bool
	WorkflowID          string
	WorkflowLocation    string
	ProcessingDeadline  time.Duration
}

const (
	IndexBackendDiscoveryEngine = "discoveryengine"
	IndexBackendWorkflow        = "workflow"
)

// LoadStoreConfig reads the record store location shared by every binary.
func LoadStoreConfig() (StoreConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return StoreConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	return StoreConfig{
		ProjectID:         projectID,
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", "(default)"),
		CollectionName:    gcp.GetEnv("FIRESTORE_COLLECTION", "document-metadata"),
	}, nil
}

// LoadExtractorConfig loads and validates the extraction service environment.
func LoadExtractorConfig() (*ExtractorConfig, error) {
	store, err := LoadStoreConfig()
	if err != nil {
		return nil, err
	}

	cfg := &ExtractorConfig{
		Store:                 store,
		TargetPathPrefix:      gcp.GetEnv("TARGET_PATH_PREFIX", ""),
		SupportedContentTypes: gcp.GetEnvList("SUPPORTED_CONTENT_TYPES", "application/pdf"),
		SchemaID:              gcp.GetEnv("EXTRACTION_SCHEMA", schema.LeaseV1.ID),
		SchemaFile:            gcp.GetEnv("EXTRACTION_SCHEMA_FILE", ""),
		VertexAIRegion:        gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		ModelName:             gcp.GetEnv("GEMINI_MODEL_NAME", "gemini-2.5-flash"),
		MetadataReadyTopicID:  gcp.GetEnv("METADATA_READY_TOPIC_ID", ""),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var maxBytes int
	cfg.OverwriteExisting, err = gcp.GetEnvBool("OVERWRITE_EXISTING_METADATA", false)
	collect(err)
	cfg.Engine.CallTimeout, err = gcp.GetEnvDuration("EXTRACTION_TIMEOUT", 5*time.Minute)
	collect(err)
	cfg.Engine.MaxAttempts, err = gcp.GetEnvInt("EXTRACTION_MAX_ATTEMPTS", 3)
	collect(err)
	cfg.Engine.BackoffInitial, err = gcp.GetEnvDuration("EXTRACTION_BACKOFF_INITIAL", 2*time.Second)
	collect(err)
	cfg.Engine.BackoffMax, err = gcp.GetEnvDuration("EXTRACTION_BACKOFF_MAX", 30*time.Second)
	collect(err)
	cfg.Engine.RateLimit, err = gcp.GetEnvFloat("EXTRACTION_RATE_LIMIT", 0)
	collect(err)
	cfg.LeaseTTL, err = gcp.GetEnvDuration("EXTRACTION_LEASE_TTL", 15*time.Minute)
	collect(err)
	cfg.PreflightEnabled, err = gcp.GetEnvBool("PREFLIGHT_ENABLED", true)
	collect(err)
	maxBytes, err = gcp.GetEnvInt("PREFLIGHT_MAX_BYTES", 50<<20)
	collect(err)
	cfg.PreflightMaxBytes = int64(maxBytes)
	cfg.ProcessingDeadline, err = gcp.GetEnvDuration("PROCESSING_DEADLINE", 9*time.Minute)
	collect(err)

	if cfg.MetadataReadyTopicID == "" {
		errs = append(errs, fmt.Errorf("METADATA_READY_TOPIC_ID environment variable must be set"))
	}
	if cfg.Engine.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("EXTRACTION_MAX_ATTEMPTS must be at least 1"))
	}
	if cfg.LeaseTTL < cfg.Engine.CallTimeout {
		errs = append(errs, fmt.Errorf("EXTRACTION_LEASE_TTL (%s) must not be shorter than EXTRACTION_TIMEOUT (%s)", cfg.LeaseTTL, cfg.Engine.CallTimeout))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// LoadRefresherConfig loads and validates the refresh service environment.
func LoadRefresherConfig() (*RefresherConfig, error) {
	store, err := LoadStoreConfig()
	if err != nil {
		return nil, err
	}

	cfg := &RefresherConfig{
		Store:               store,
		SchemaID:            gcp.GetEnv("EXTRACTION_SCHEMA", schema.LeaseV1.ID),
		SchemaFile:          gcp.GetEnv("EXTRACTION_SCHEMA_FILE", ""),
		StagingBucket:       gcp.GetEnv("STAGING_BUCKET", ""),
		StagingPrefix:       gcp.GetEnv("STAGING_PREFIX", "jsonl-metadata"),
		IndexBackend:        gcp.GetEnv("INDEX_BACKEND", IndexBackendDiscoveryEngine),
		DataStoreID:         gcp.GetEnv("DATA_STORE_ID", ""),
		DiscoveryLocation:   gcp.GetEnv("DISCOVERY_LOCATION", "global"),
		DiscoveryCollection: gcp.GetEnv("DISCOVERY_COLLECTION", "default_collection"),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	cfg.Segments.MaxRecords, err = gcp.GetEnvInt("SEGMENT_MAX_RECORDS", 500)
	collect(err)
	cfg.Segments.MaxAge, err = gcp.GetEnvDuration("SEGMENT_MAX_AGE", 10*time.Minute)
	collect(err)
	cfg.Segments.NotifyOnRotate, err = gcp.GetEnvBool("INDEX_NOTIFY_ON_ROTATE", false)
	collect(err)
	cfg.WaitForImport, err = gcp.GetEnvBool("INDEX_WAIT_FOR_IMPORT", true)
	collect(err)
	cfg.ProcessingDeadline, err = gcp.GetEnvDuration("PROCESSING_DEADLINE", 9*time.Minute)
	collect(err)

	if cfg.StagingBucket == "" {
		errs = append(errs, fmt.Errorf("STAGING_BUCKET environment variable must be set"))
	}
	if cfg.Segments.MaxRecords < 1 {
		errs = append(errs, fmt.Errorf("SEGMENT_MAX_RECORDS must be at least 1"))
	}
	switch cfg.IndexBackend {
	case IndexBackendDiscoveryEngine:
		if cfg.DataStoreID == "" {
			errs = append(errs, fmt.Errorf("DATA_STORE_ID environment variable must be set for the %s index backend", cfg.IndexBackend))
		}
	case IndexBackendWorkflow:
		if cfg.WorkflowID == "" {
			errs = append(errs, fmt.Errorf("WORKFLOW_ID environment variable must be set for the %s index backend", cfg.IndexBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be %q or %q, got %q", IndexBackendDiscoveryEngine, IndexBackendWorkflow, cfg.IndexBackend))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ResolveSchema returns the schema file when one is configured, otherwise the built-in schema.
func ResolveSchema(id, file string) (*schema.Schema, error) {
	if file != "" {
		return schema.Load(file)
	}
	return schema.Lookup(id)
}
