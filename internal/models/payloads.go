package models

// These structs define the JSON payloads carried on the message bus and the
// line format written to the batch staging store.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Int64String decodes an int64 sent either as a JSON number or, as Cloud
// Storage does, as a JSON string.
type Int64String int64

func (v *Int64String) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse int64 %q: %w", s, err)
	}
	*v = Int64String(n)
	return nil
}

func (v Int64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(v), 10))
}

// StorageObject is the Cloud Storage object resource as delivered by Eventarc
// and by Pub/Sub bucket notifications. Operator reprocess messages reuse it
// with Reprocess set.
type StorageObject struct {
	Bucket      string      `json:"bucket"`
	Name        string      `json:"name"`
	Generation  Int64String `json:"generation"`
	ContentType string      `json:"contentType,omitempty"`
	Size        Int64String `json:"size,omitempty"`
	TimeCreated string      `json:"timeCreated,omitempty"`
	Reprocess   bool        `json:"reprocess,omitempty"`
}

// DocumentEvent converts the wire object into a validated event.
func (o StorageObject) DocumentEvent() (*DocumentEvent, error) {
	key := DocumentKey{Bucket: o.Bucket, ObjectPath: o.Name, Generation: int64(o.Generation)}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	evt := &DocumentEvent{
		Key:         key,
		ContentType: o.ContentType,
		Size:        int64(o.Size),
		Reprocess:   o.Reprocess,
	}
	if o.TimeCreated != "" {
		t, err := time.Parse(time.RFC3339Nano, o.TimeCreated)
		if err != nil {
			return nil, fmt.Errorf("%w: timeCreated %q: %v", ErrInvalidEvent, o.TimeCreated, err)
		}
		evt.EventTime = t
	}
	return evt, nil
}

// NewStorageObject builds the wire form of an upload event.
func NewStorageObject(evt *DocumentEvent) StorageObject {
	o := StorageObject{
		Bucket:      evt.Key.Bucket,
		Name:        evt.Key.ObjectPath,
		Generation:  Int64String(evt.Key.Generation),
		ContentType: evt.ContentType,
		Size:        Int64String(evt.Size),
		Reprocess:   evt.Reprocess,
	}
	if !evt.EventTime.IsZero() {
		o.TimeCreated = evt.EventTime.UTC().Format(time.RFC3339Nano)
	}
	return o
}

// MetadataReady announces that a record is ready to publish. It carries
// only the document identity.
type MetadataReady struct {
	Bucket     string      `json:"bucket"`
	Name       string      `json:"name"`
	Generation Int64String `json:"generation"`
}

// NewMetadataReady builds the message for key.
func NewMetadataReady(key DocumentKey) MetadataReady {
	return MetadataReady{Bucket: key.Bucket, Name: key.ObjectPath, Generation: Int64String(key.Generation)}
}

// Key returns the validated document key carried by the message.
func (m MetadataReady) Key() (DocumentKey, error) {
	key := DocumentKey{Bucket: m.Bucket, ObjectPath: m.Name, Generation: int64(m.Generation)}
	return key, key.Validate()
}

// PubSubMessage is the message envelope of a Pub/Sub push CloudEvent.
type PubSubMessage struct {
	Data       []byte            `json:"data"`
	Attributes map[string]string `json:"attributes,omitempty"`
	MessageID  string            `json:"messageId,omitempty"`
}

// MessagePublishedData is the payload of google.cloud.pubsub.topic.v1.messagePublished.
type MessagePublishedData struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription,omitempty"`
}

// BatchContent references the indexed document's original bytes.
type BatchContent struct {
	MIMEType string `json:"mimeType"`
	URI      string `json:"uri"`
}

// BatchRecord is one line of a staging segment, in the index's document import form.
type BatchRecord struct {
	ID         string         `json:"id"`
	StructData map[string]any `json:"structData"`
	Content    BatchContent   `json:"content"`
}

// NewBatchRecord builds the batch line for rec using already normalized fields.
func NewBatchRecord(rec *MetadataRecord, fields FieldMap) BatchRecord {
	data := make(map[string]any, len(fields)+8)
	for k, v := range fields {
		data[k] = v
	}
	data["document_key"] = rec.Key.String()
	data["bucket"] = rec.Key.Bucket
	data["object_path"] = rec.Key.ObjectPath
	data["object_generation"] = rec.Key.GenerationString()
	data["source_ref"] = rec.SourceRef
	data["title"] = rec.Key.FileName()
	data["url"] = rec.Key.BrowserURL()
	if rec.PageCount > 0 {
		data["page_count"] = rec.PageCount
	}

	mimeType := rec.ContentType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	return BatchRecord{
		ID:         rec.Key.ID(),
		StructData: data,
		Content:    BatchContent{MIMEType: mimeType, URI: rec.SourceRef},
	}
}

// EncodeLine serializes the record as one newline terminated JSON line.
func (b BatchRecord) EncodeLine() ([]byte, error) {
	line, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch record %s: %w", b.ID, err)
	}
	return append(line, '\n'), nil
}

// DocumentKeyString returns the document_key stored in the record.
func (b BatchRecord) DocumentKeyString() string {
	s, _ := b.StructData["document_key"].(string)
	return s
}

// DecodeBatchRecords parses a line delimited segment. A trailing line without
// a newline that does not parse is reported through truncated instead of an
// error, so a partially written segment stays readable.
func DecodeBatchRecords(r io.Reader) (records []BatchRecord, truncated bool, err error) {
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, readErr := br.ReadBytes('\n')
		complete := readErr == nil
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return records, false, fmt.Errorf("failed to read segment: %w", readErr)
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var rec BatchRecord
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				if !complete {
					return records, true, nil
				}
				return records, false, fmt.Errorf("line %d: %w", lineNo, err)
			}
			records = append(records, rec)
		}

		if !complete {
			return records, false, nil
		}
	}
}
