package services

import (
	"encoding/json"
	"fmt"
	"strconv"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// CloudEvent types accepted by the function entry points.
const (
	EventTypeObjectFinalized  = "google.cloud.storage.object.v1.finalized"
	EventTypeMessagePublished = "google.cloud.pubsub.topic.v1.messagePublished"
)

// Pub/Sub attributes set by Cloud Storage bucket notifications and by pipelinectl.
const (
	attrEventType      = "eventType"
	attrReprocess      = "reprocess"
	eventTypeFinalized = "OBJECT_FINALIZE"
)

// DocumentEventFromCloudEvent decodes an upload event delivered either
// directly by Eventarc or wrapped in a Pub/Sub push. It returns a nil event
// for notifications that are not object finalizations.
func DocumentEventFromCloudEvent(e cloudevents.Event) (*models.DocumentEvent, error) {
	if e.Type() == EventTypeMessagePublished {
		msg, err := decodeMessagePublished(e)
		if err != nil {
			return nil, err
		}
		return DocumentEventFromMessage(msg.Data, msg.Attributes)
	}
	return decodeStorageObject(e.Data(), false)
}

// DocumentEventFromMessage decodes a bus message carrying a storage object
// resource. A nil event means the message should be acknowledged and ignored.
func DocumentEventFromMessage(data []byte, attrs map[string]string) (*models.DocumentEvent, error) {
	if et := attrs[attrEventType]; et != "" && et != eventTypeFinalized {
		return nil, nil
	}
	reprocess, _ := strconv.ParseBool(attrs[attrReprocess])
	return decodeStorageObject(data, reprocess)
}

// MetadataReadyFromCloudEvent decodes a "metadata ready" event from a Pub/Sub push.
func MetadataReadyFromCloudEvent(e cloudevents.Event) (models.DocumentKey, error) {
	if e.Type() == EventTypeMessagePublished {
		msg, err := decodeMessagePublished(e)
		if err != nil {
			return models.DocumentKey{}, err
		}
		return MetadataReadyFromMessage(msg.Data)
	}
	return MetadataReadyFromMessage(e.Data())
}

// MetadataReadyFromMessage decodes a "metadata ready" bus payload.
func MetadataReadyFromMessage(data []byte) (models.DocumentKey, error) {
	var msg models.MetadataReady
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.DocumentKey{}, fmt.Errorf("%w: metadata ready payload: %v", models.ErrInvalidEvent, err)
	}
	return msg.Key()
}

func decodeMessagePublished(e cloudevents.Event) (*models.PubSubMessage, error) {
	var payload models.MessagePublishedData
	if err := json.Unmarshal(e.Data(), &payload); err != nil {
		return nil, fmt.Errorf("%w: pubsub envelope: %v", models.ErrInvalidEvent, err)
	}
	return &payload.Message, nil
}

func decodeStorageObject(data []byte, reprocess bool) (*models.DocumentEvent, error) {
	var obj models.StorageObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: storage object payload: %v", models.ErrInvalidEvent, err)
	}
	obj.Reprocess = obj.Reprocess || reprocess
	return obj.DocumentEvent()
}

// ReprocessMessage builds the upload message that asks the extractor to run
// again for rec, bypassing the already-extracted short circuit.
func ReprocessMessage(rec *models.MetadataRecord) ([]byte, map[string]string, error) {
	obj := models.NewStorageObject(&models.DocumentEvent{
		Key:         rec.Key,
		ContentType: rec.ContentType,
		Reprocess:   true,
	})
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode reprocess message for %s: %w", rec.Key, err)
	}
	attrs := map[string]string{
		attrEventType: eventTypeFinalized,
		attrReprocess: "true",
	}
	return data, attrs, nil
}
