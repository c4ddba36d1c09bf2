package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// WorkflowNotifier hands each segment to a Cloud Workflows execution that
// performs the index import.
type WorkflowNotifier struct {
	executionsClient *executions.Client
	parent           string
}

// NewWorkflowNotifier creates a notifier for the workflow at projects/<p>/locations/<l>/workflows/<id>.
func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID string) (*WorkflowNotifier, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow executions client: %w", err)
	}
	return &WorkflowNotifier{
		executionsClient: client,
		parent:           fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}, nil
}

// NotifyNewSegment starts one execution with the segment as its argument.
func (n *WorkflowNotifier) NotifyNewSegment(ctx context.Context, ref models.SegmentRef) error {
	payloadBytes, err := json.Marshal(WorkflowArgument(ref))
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution for segment %s: %w", ref.ID, err)
	}
	slog.Info("Triggered index workflow.", "segment", ref.ID, "execution", exec.GetName())
	return nil
}

// Close releases the executions client.
func (n *WorkflowNotifier) Close() error {
	return n.executionsClient.Close()
}

// WorkflowArgument is the execution argument for ref.
func WorkflowArgument(ref models.SegmentRef) map[string]interface{} {
	return map[string]interface{}{
		"segmentId": ref.ID,
		"gcsUri":    ref.URI,
	}
}
