package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageObject_DecodesGCSResource(t *testing.T) {
	raw := `{"bucket":"bucket1","name":"leases/a.pdf","generation":"7","contentType":"application/pdf","size":"1024","timeCreated":"2024-03-01T10:00:00.123Z"}`

	var obj StorageObject
	require.NoError(t, json.Unmarshal([]byte(raw), &obj))
	evt, err := obj.DocumentEvent()
	require.NoError(t, err)

	assert.Equal(t, DocumentKey{Bucket: "bucket1", ObjectPath: "leases/a.pdf", Generation: 7}, evt.Key)
	assert.Equal(t, int64(1024), evt.Size)
	assert.Equal(t, "application/pdf", evt.ContentType)
	assert.Equal(t, 2024, evt.EventTime.Year())
	assert.False(t, evt.Reprocess)
}

func TestStorageObject_AcceptsNumericGeneration(t *testing.T) {
	var obj StorageObject
	require.NoError(t, json.Unmarshal([]byte(`{"bucket":"b","name":"n.pdf","generation":42}`), &obj))
	assert.Equal(t, Int64String(42), obj.Generation)
}

func TestStorageObject_RejectsMissingGeneration(t *testing.T) {
	var obj StorageObject
	require.NoError(t, json.Unmarshal([]byte(`{"bucket":"b","name":"n.pdf"}`), &obj))
	_, err := obj.DocumentEvent()
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestMetadataReady_CarriesIdentityOnly(t *testing.T) {
	key := DocumentKey{Bucket: "bucket1", ObjectPath: "leases/a.pdf", Generation: 7}
	b, err := json.Marshal(NewMetadataReady(key))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bucket":"bucket1","name":"leases/a.pdf","generation":"7"}`, string(b))

	var msg MetadataReady
	require.NoError(t, json.Unmarshal(b, &msg))
	got, err := msg.Key()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestNewBatchRecord(t *testing.T) {
	rec := &MetadataRecord{
		Key:         DocumentKey{Bucket: "bucket1", ObjectPath: "leases/a.pdf", Generation: 7},
		Status:      StatusExtracted,
		SourceRef:   "gs://bucket1/leases/a.pdf",
		ContentType: "application/pdf",
		PageCount:   3,
	}
	br := NewBatchRecord(rec, FieldMap{"tenant": "Acme", "start_date": "2024-01-01"})

	assert.Equal(t, rec.Key.ID(), br.ID)
	assert.Equal(t, "Acme", br.StructData["tenant"])
	assert.Equal(t, "2024-01-01", br.StructData["start_date"])
	assert.Equal(t, "gs://bucket1/leases/a.pdf", br.StructData["source_ref"])
	assert.Equal(t, "7", br.StructData["object_generation"])
	assert.Equal(t, "a.pdf", br.StructData["title"])
	assert.Equal(t, 3, br.StructData["page_count"])
	assert.Equal(t, BatchContent{MIMEType: "application/pdf", URI: "gs://bucket1/leases/a.pdf"}, br.Content)
}

func TestDecodeBatchRecords_StopsAtPartialLine(t *testing.T) {
	rec := &MetadataRecord{Key: DocumentKey{Bucket: "b", ObjectPath: "x.pdf", Generation: 1}, SourceRef: "gs://b/x.pdf"}
	line, err := NewBatchRecord(rec, FieldMap{"city": "Toronto"}).EncodeLine()
	require.NoError(t, err)

	input := string(line) + string(line) + `{"id":"abc","structData":{"ci`
	records, truncated, err := DecodeBatchRecords(strings.NewReader(input))
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, records, 2)
	assert.Equal(t, "Toronto", records[0].StructData["city"])
	assert.Equal(t, "b/x.pdf#1", records[1].DocumentKeyString())
}

func TestDecodeBatchRecords_CorruptCompleteLineFails(t *testing.T) {
	_, _, err := DecodeBatchRecords(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}

func TestDecodeBatchRecords_LastLineWithoutNewline(t *testing.T) {
	records, truncated, err := DecodeBatchRecords(strings.NewReader(`{"id":"a","structData":{},"content":{"mimeType":"application/pdf","uri":"gs://b/a"}}`))
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Len(t, records, 1)
}
