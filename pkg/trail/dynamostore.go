package trail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aerofollow/gcs/pkg/model"
)

// DynamoDBStore persists RecordedObjects to a single DynamoDB table keyed on
// objectID, reproducing the table operations of the original GCS backend's
// database helper (scan-all, delete-by-key, put-item).
type DynamoDBStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDBStore wraps an already-configured dynamodb.Client.
func NewDynamoDBStore(client *dynamodb.Client, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table}
}

// dynamoItem is the wire shape of one table row; positions are stored as a
// list of maps rather than a single blob so the table remains queryable.
type dynamoItem struct {
	ObjectID       string               `dynamodbav:"objectID"`
	Class          string               `dynamodbav:"class"`
	Positions      []dynamoTrailPoint   `dynamodbav:"positions"`
	StartedAtUnix  int64                `dynamodbav:"startedAt"`
	EndedAtUnix    int64                `dynamodbav:"endedAt"`
}

type dynamoTrailPoint struct {
	TS        int64   `dynamodbav:"ts"`
	Lat       float64 `dynamodbav:"lat"`
	Lon       float64 `dynamodbav:"lon"`
	AltAGL    float64 `dynamodbav:"altAgl"`
	ClassName string  `dynamodbav:"className"`
}

// Put stores a finished recording, mirroring record_telemetry_data's
// formatted_data shape (objectID, class, positions).
func (s *DynamoDBStore) Put(ctx context.Context, obj model.RecordedObject) error {
	item := dynamoItem{
		ObjectID:      obj.ObjectID,
		Class:         obj.Classification,
		StartedAtUnix: obj.StartedAt.Unix(),
		EndedAtUnix:   obj.EndedAt.Unix(),
	}
	for _, p := range obj.Positions {
		item.Positions = append(item.Positions, dynamoTrailPoint{
			TS:        p.RecordedAt.Unix(),
			Lat:       p.Telemetry.Lat,
			Lon:       p.Telemetry.Lon,
			AltAGL:    p.Telemetry.AltAGL,
			ClassName: p.ClassName,
		})
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal recorded object: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put recorded object: %w", err)
	}
	return nil
}

// ListObjects reproduces get_all_objects: objectID, classification, and the
// first recorded timestamp for each trail, without fetching full position
// lists.
func (s *DynamoDBStore) ListObjects(ctx context.Context) ([]ObjectSummary, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{TableName: &s.table})
	if err != nil {
		return nil, fmt.Errorf("scan recorded objects: %w", err)
	}

	summaries := make([]ObjectSummary, 0, len(out.Items))
	for _, raw := range out.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		var firstTS int64
		if len(item.Positions) > 0 {
			firstTS = item.Positions[0].TS
		}
		summaries = append(summaries, ObjectSummary{
			ObjectID:       item.ObjectID,
			Classification: item.Class,
			FirstTimestamp: firstTS,
		})
	}
	return summaries, nil
}

// DeleteObject reproduces delete_object.
func (s *DynamoDBStore) DeleteObject(ctx context.Context, objectID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"objectID": &types.AttributeValueMemberS{Value: objectID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete recorded object %s: %w", objectID, err)
	}
	return nil
}

// ObjectSummary is the list-view shape returned by the REST API's /objects
// endpoint.
type ObjectSummary struct {
	ObjectID       string
	Classification string
	FirstTimestamp int64
}
