package gcp

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newOfflineStorageClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStagingStore_SegmentURI(t *testing.T) {
	client := newOfflineStorageClient(t)

	s := NewStagingStore(client, "staging", "/jsonl-metadata/")
	assert.Equal(t, "gs://staging/jsonl-metadata/20260301T120000Z-abcd1234/*.jsonl", s.SegmentURI("20260301T120000Z-abcd1234"))
	assert.Equal(t, "jsonl-metadata/seg/", s.segmentPrefix("seg"))

	bare := NewStagingStore(client, "staging", "")
	assert.Equal(t, "gs://staging/seg/*.jsonl", bare.SegmentURI("seg"))
}
