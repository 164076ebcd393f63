package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	pkgconfig "github.com/cloud-wave-best-zizon/fulfillment-service/pkg/config"
)

// InventoryRepository stores InventoryRecords. Every write is conditional on
// the version the caller read, which makes the record the unit of mutual
// exclusion.
type InventoryRepository interface {
	Create(ctx context.Context, rec *domain.InventoryRecord) error
	Get(ctx context.Context, productID string) (*domain.InventoryRecord, error)
	SaveIfVersion(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error
	DeleteIfVersion(ctx context.Context, productID string, expectedVersion int64) error
	FindByReservation(ctx context.Context, reservationID string) ([]*domain.InventoryRecord, error)
	FindExpiring(ctx context.Context, now time.Time) ([]*domain.InventoryRecord, error)
}

// inventoryItem is the stored shape. reservation_ids and earliest_expiry are
// derived so scans can filter without reading the nested list.
type inventoryItem struct {
	domain.InventoryRecord
	ReservationIDs []string `dynamodbav:"reservation_ids"`
	EarliestExpiry int64    `dynamodbav:"earliest_expiry"`
}

func toItem(rec *domain.InventoryRecord) inventoryItem {
	item := inventoryItem{InventoryRecord: *rec, ReservationIDs: rec.HeldReservationIDs()}
	if item.Reservations == nil {
		item.Reservations = []domain.Reservation{}
	}
	if earliest, ok := rec.EarliestExpiry(); ok {
		item.EarliestExpiry = earliest.Unix()
	}
	return item
}

type DynamoInventoryRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoDBClient(ctx context.Context, cfg *pkgconfig.Config) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if cfg.DynamoDBEndpoint != "" {
		// dynamodb-local 은 임의의 자격 증명을 허용
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	}), nil
}

func NewDynamoInventoryRepository(client *dynamodb.Client, tableName string) *DynamoInventoryRepository {
	return &DynamoInventoryRepository{
		client:    client,
		tableName: tableName,
	}
}

func (r *DynamoInventoryRepository) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal inventory record: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("product_id"))).
		Build()
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrProductExists
		}
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

func (r *DynamoInventoryRepository) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            productKey(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	if result.Item == nil {
		return nil, domain.ErrNotFound
	}

	var item inventoryItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inventory record: %w", err)
	}

	return &item.InventoryRecord, nil
}

// SaveIfVersion replaces the record only if the stored version still equals
// expectedVersion.
func (r *DynamoInventoryRepository) SaveIfVersion(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error {
	av, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal inventory record: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("version").Equal(expression.Value(expectedVersion))).
		Build()
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

func (r *DynamoInventoryRepository) DeleteIfVersion(ctx context.Context, productID string, expectedVersion int64) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("version").Equal(expression.Value(expectedVersion))).
		Build()
	if err != nil {
		return err
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       productKey(productID),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("failed to delete item: %w", err)
	}

	return nil
}

func (r *DynamoInventoryRepository) FindByReservation(ctx context.Context, reservationID string) ([]*domain.InventoryRecord, error) {
	return r.scan(ctx, expression.Contains(expression.Name("reservation_ids"), reservationID))
}

func (r *DynamoInventoryRepository) FindExpiring(ctx context.Context, now time.Time) ([]*domain.InventoryRecord, error) {
	filter := expression.Name("earliest_expiry").GreaterThan(expression.Value(0)).
		And(expression.Name("earliest_expiry").LessThanEqual(expression.Value(now.Unix())))
	return r.scan(ctx, filter)
}

func (r *DynamoInventoryRepository) scan(ctx context.Context, filter expression.ConditionBuilder) ([]*domain.InventoryRecord, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, err
	}

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	var records []*domain.InventoryRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}

		var items []inventoryItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inventory records: %w", err)
		}
		for i := range items {
			records = append(records, &items[i].InventoryRecord)
		}
	}

	return records, nil
}

func productKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}
