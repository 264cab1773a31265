// Package kinesis decodes ledger events delivered through the DynamoDB to
// Kinesis stream integration.
package kinesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/example/ticket-inventory/internal/infrastructure/store"
)

var ErrNilImage = errors.New("DynamoDB image is nil")

// DecodeRecord returns the ledger event carried by a Kinesis record, or nil
// for records that are not new events (updates, removals, snapshot rows).
func DecodeRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("unmarshal DynamoDB record: %w", err)
	}
	return DecodeStreamRecord(change)
}

// DecodeStreamRecord is DecodeRecord for records read straight from DynamoDB Streams.
func DecodeStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	// events are append-only; anything but INSERT is TTL cleanup or repair
	if record.EventName != "INSERT" {
		return nil, nil
	}
	image := record.Change.NewImage
	if _, isSnapshot := image["state"]; isSnapshot {
		return nil, nil
	}
	return decodeImage(image)
}

func decodeImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, ErrNilImage
	}

	event := &store.Event{
		ID:            stringAttr(image, "id"),
		AggregateID:   stringAttr(image, "aggregate_id"),
		AggregateType: stringAttr(image, "aggregate_type"),
		EventType:     stringAttr(image, "event_type"),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("missing required fields: id=%q aggregate_id=%q event_type=%q",
			event.ID, event.AggregateID, event.EventType)
	}

	if data := stringAttr(image, "data"); data != "" {
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("event %s: data is not JSON", event.ID)
		}
		event.Data = json.RawMessage(data)
	}
	if created := stringAttr(image, "created_at"); created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("event %s: parse created_at: %w", event.ID, err)
		}
		event.Timestamp = t
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("event %s: parse version: %w", event.ID, err)
		}
		event.Version = int(version)
	}

	return event, nil
}

func stringAttr(image map[string]events.DynamoDBAttributeValue, name string) string {
	v, ok := image[name]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}
