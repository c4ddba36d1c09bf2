package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentmetadataflow/internal/services"
)

var (
	extractionService *services.ExtractionService
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Accepts storage finalize events and Pub/Sub wrapped upload notifications.
	functions.CloudEvent("ExtractMetadata", extractMetadata)
}

// main serves the function locally. Deployed functions are started by the framework.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Function framework exited", "error", err)
		os.Exit(1)
	}
}

func extractMetadata(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		extractionService, initErr = services.NewExtractionService(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	// A returned error makes the platform redeliver the event.
	return extractionService.Worker.HandleCloudEvent(ctx, e)
}
