// Package dynamo stores batches in a DynamoDB table keyed by sensor_id
// (partition) and a time-ordered sort key.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type Config struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type Store struct {
	client API
	table  string
}

type reading struct {
	Name          string  `dynamodbav:"sensor_name"`
	Status        string  `dynamodbav:"status"`
	Value         float64 `dynamodbav:"reading"`
	Unit          string  `dynamodbav:"unit"`
	Note          string  `dynamodbav:"note"`
	Health        string  `dynamodbav:"sensor_health,omitempty"`
	Specification string  `dynamodbav:"sensor_specification,omitempty"`
}

type item struct {
	SensorID   string    `dynamodbav:"sensor_id"`
	SortKey    string    `dynamodbav:"sk"`
	ID         string    `dynamodbav:"id"`
	DeviceID   string    `dynamodbav:"device_id"`
	CapturedAt time.Time `dynamodbav:"captured_at"`
	Readings   []reading `dynamodbav:"readings"`
}

func NewStore(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// Connect loads the default AWS credential chain and builds a client.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewStore(client, cfg.Table), nil
}

func (s *Store) Name() string { return "dynamodb" }

func sortKey(at time.Time, id string) string {
	return fmt.Sprintf("%019d#%s", at.UnixNano(), id)
}

// EnsureTable creates the table on demand billing; an existing table is fine.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("sensor_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("sensor_id"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, b *domain.Batch) error {
	it := item{
		SensorID:   b.SensorID,
		SortKey:    sortKey(b.CapturedAt, b.ID),
		ID:         b.ID,
		DeviceID:   b.DeviceID,
		CapturedAt: b.CapturedAt.UTC(),
		Readings:   make([]reading, 0, len(b.Channels)),
	}
	for _, ch := range b.Channels {
		it.Readings = append(it.Readings, reading(ch))
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}); err != nil {
		return fmt.Errorf("put batch in dynamodb: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, sensorID string) (*domain.Batch, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("sensor_id = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: sensorID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query latest batch: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, domain.ErrNotFound
	}
	return decode(out.Items[0])
}

func (s *Store) Find(ctx context.Context, f ports.ReadingFilter) ([]domain.Batch, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if f.SensorID != "" {
		items, err = s.queryAll(ctx, f)
	} else {
		items, err = s.scanAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.Batch, 0, len(items))
	for _, av := range items {
		b, err := decode(av)
		if err != nil {
			return nil, err
		}
		if !f.Match(b) {
			continue
		}
		if nb, ok := f.Narrow(*b); ok {
			out = append(out, nb)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (s *Store) queryAll(ctx context.Context, f ports.ReadingFilter) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("sensor_id = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: f.SensorID},
		},
	}
	if !f.From.IsZero() {
		in.KeyConditionExpression = aws.String("sensor_id = :s AND sk >= :from")
		in.ExpressionAttributeValues[":from"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("%019d", f.From.UnixNano())}
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query batches: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) scanAll(ctx context.Context) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan batches: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func decode(av map[string]types.AttributeValue) (*domain.Batch, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	b := &domain.Batch{
		ID:         it.ID,
		SensorID:   it.SensorID,
		DeviceID:   it.DeviceID,
		CapturedAt: it.CapturedAt.UTC(),
		Channels:   make([]domain.Channel, 0, len(it.Readings)),
	}
	for _, r := range it.Readings {
		b.Channels = append(b.Channels, domain.Channel(r))
	}
	return b, nil
}

var (
	_ ports.ReadingStore   = (*Store)(nil)
	_ ports.ReadingQuerier = (*Store)(nil)
	_ API                  = (*dynamodb.Client)(nil)
)
