package services

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentmetadataflow/internal/gcp"
)

// ExtractionService is an extraction worker wired to Google Cloud, plus the
// clients it owns.
type ExtractionService struct {
	Worker  *ExtractionWorker
	Records *gcp.RecordStore
	Config  *ExtractorConfig
	closers []func() error
}

// NewExtractionService builds the extraction worker from the environment.
func NewExtractionService(ctx context.Context, opts ...Option) (*ExtractionService, error) {
	cfg, err := LoadExtractorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	sch, err := ResolveSchema(cfg.SchemaID, cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve extraction schema: %w", err)
	}
	o := applyOptions(opts)
	svc := &ExtractionService{Config: cfg}

	fsClient, err := gcp.NewFirestoreClient(ctx, cfg.Store.ProjectID, cfg.Store.FirestoreDatabase)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, fsClient.Close)

	engine, err := gcp.NewVertexEngine(ctx, cfg.Store.ProjectID, cfg.VertexAIRegion, cfg.ModelName)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to create vertex engine: %w", err)
	}
	svc.closers = append(svc.closers, engine.Close)

	psClient, err := gcp.NewPubSubClient(ctx, cfg.Store.ProjectID)
	if err != nil {
		svc.Close()
		return nil, err
	}
	publisher := gcp.NewPublisher(psClient, cfg.MetadataReadyTopicID)
	svc.closers = append(svc.closers, func() error { publisher.Stop(); return nil }, psClient.Close)

	var preflight *Preflight
	if cfg.PreflightEnabled {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		svc.closers = append(svc.closers, storageClient.Close)
		preflight = NewPreflight(gcp.NewObjectReader(storageClient), cfg.PreflightMaxBytes)
	}

	svc.Records = gcp.NewRecordStore(fsClient, cfg.Store.CollectionName)
	leases := gcp.NewLeaseStore(fsClient, cfg.Store.CollectionName+"-leases")
	extractor := NewExtractor(engine, cfg.Engine, o.logger, o.metrics)

	svc.Worker, err = NewExtractionWorker(svc.Records, leases, extractor, preflight, publisher, sch, ExtractionWorkerConfig{
		TargetPathPrefix:      cfg.TargetPathPrefix,
		SupportedContentTypes: cfg.SupportedContentTypes,
		OverwriteExisting:     cfg.OverwriteExisting,
		LeaseTTL:              cfg.LeaseTTL,
		ProcessingDeadline:    cfg.ProcessingDeadline,
	}, opts...)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases every client, newest first.
func (s *ExtractionService) Close() error {
	return closeAll(s.closers)
}

// RefreshService is a refresh worker wired to Google Cloud, plus the clients it owns.
type RefreshService struct {
	Worker   *RefreshWorker
	Staging  *gcp.StagingStore
	Notifier IndexNotifier
	Config   *RefresherConfig
	closers  []func() error
}

// NewRefreshService builds the refresh worker from the environment.
func NewRefreshService(ctx context.Context, opts ...Option) (*RefreshService, error) {
	cfg, err := LoadRefresherConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	sch, err := ResolveSchema(cfg.SchemaID, cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve extraction schema: %w", err)
	}
	svc := &RefreshService{Config: cfg}

	fsClient, err := gcp.NewFirestoreClient(ctx, cfg.Store.ProjectID, cfg.Store.FirestoreDatabase)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, fsClient.Close)

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	svc.closers = append(svc.closers, storageClient.Close)
	svc.Staging = gcp.NewStagingStore(storageClient, cfg.StagingBucket, cfg.StagingPrefix)

	switch cfg.IndexBackend {
	case IndexBackendWorkflow:
		n, err := gcp.NewWorkflowNotifier(ctx, cfg.Store.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Notifier = n
		svc.closers = append(svc.closers, n.Close)
	default:
		n, err := gcp.NewDiscoveryNotifier(ctx, cfg.Store.ProjectID, cfg.DiscoveryLocation, cfg.DiscoveryCollection, cfg.DataStoreID, cfg.WaitForImport)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Notifier = n
		svc.closers = append(svc.closers, n.Close)
	}

	segmenter := NewSegmenter(svc.Staging, cfg.Segments, opts...)
	records := gcp.NewRecordStore(fsClient, cfg.Store.CollectionName)
	svc.Worker, err = NewRefreshWorker(records, segmenter, svc.Notifier, sch, cfg.ProcessingDeadline, opts...)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases every client, newest first.
func (s *RefreshService) Close() error {
	return closeAll(s.closers)
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
