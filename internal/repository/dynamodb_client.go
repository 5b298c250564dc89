package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"hospital-query/internal/domain"
)

const (
	skPrefixQuery = "QUERY#"
	skMeta        = "META#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding per-session token usage.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// querySK orders usage records chronologically; the query id keeps two
// records written in the same instant distinct.
func querySK(ts time.Time, queryID string) string {
	return skPrefixQuery + ts.UTC().Format(time.RFC3339Nano) + "#" + queryID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// RecordUsage appends a usage record for one query and adds its tokens to
// the session totals in a single transaction, then returns the new totals.
func (c *Client) RecordUsage(ctx context.Context, sessionID string, res domain.QueryResult) (domain.SessionMeta, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.SessionMeta{}, errors.New("repository: RecordUsage: session id is required")
	}
	rec := c.NewUsageRecord(sessionID, res)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                usageItem(rec),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET sessionId = :sid, lastActivity = :now, #ttl = :ttl ADD totalTokens :tokens, queries :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":sid":    &types.AttributeValueMemberS{Value: sessionID},
						":now":    &types.AttributeValueMemberS{Value: rec.RecordedAt},
						":ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)},
						":tokens": &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Tokens)},
						":one":    &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: RecordUsage: %w", err)
	}

	meta, err := c.GetSessionMeta(ctx, sessionID)
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: RecordUsage: %w", err)
	}
	return meta, nil
}

// GetSessionMeta returns the persisted totals for a session. A session that
// has never recorded usage has zero totals.
func (c *Client) GetSessionMeta(ctx context.Context, sessionID string) (domain.SessionMeta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: GetSessionMeta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionMeta{
			PK:        sessionPK(sessionID),
			SK:        skMeta,
			SessionID: sessionID,
		}, nil
	}

	meta, err := itemToMeta(out.Item)
	if err != nil {
		return domain.SessionMeta{}, fmt.Errorf("repository: GetSessionMeta decode: %w", err)
	}
	meta.SessionID = sessionID
	return meta, nil
}

// ResetSession zeroes the session totals. Usage records are kept until
// their TTL expires.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: ResetSession: session id is required")
	}
	if err := c.UpsertMeta(ctx, c.NewSessionMeta(sessionID, 0, 0)); err != nil {
		return fmt.Errorf("repository: ResetSession: %w", err)
	}
	return nil
}

// UpsertMeta writes or replaces the session metadata record.
func (c *Client) UpsertMeta(ctx context.Context, meta domain.SessionMeta) error {
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: UpsertMeta: PK and SK are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(meta),
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertMeta: %w", err)
	}
	return nil
}

// ListUsage returns up to limit of the most recent usage records for a
// session in chronological order.
func (c *Client) ListUsage(ctx context.Context, sessionID string, limit int) ([]domain.UsageRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixQuery},
		},
		// Read newest first so LIMIT favors the most recent records.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListUsage query: %w", err)
	}

	recs := make([]domain.UsageRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToUsage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListUsage unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// NewUsageRecord constructs a UsageRecord with PK/SK/TTL set from the
// session id and the current time.
func (c *Client) NewUsageRecord(sessionID string, res domain.QueryResult) domain.UsageRecord {
	now := c.now().UTC()
	queryID := uuid.NewString()
	tokens := res.TokensUsed
	if tokens < 0 {
		tokens = 0
	}
	return domain.UsageRecord{
		PK:         sessionPK(sessionID),
		SK:         querySK(now, queryID),
		SessionID:  sessionID,
		QueryID:    queryID,
		Outcome:    res.Outcome,
		Tokens:     tokens,
		RecordedAt: now.Format(time.RFC3339Nano),
		TTL:        c.ttlValue(),
	}
}

// NewSessionMeta constructs a SessionMeta record.
func (c *Client) NewSessionMeta(sessionID string, totalTokens, queries int) domain.SessionMeta {
	return domain.SessionMeta{
		PK:           sessionPK(sessionID),
		SK:           skMeta,
		SessionID:    sessionID,
		LastActivity: c.now().UTC().Format(time.RFC3339),
		TotalTokens:  totalTokens,
		Queries:      queries,
		TTL:          c.ttlValue(),
	}
}

func itemToUsage(item map[string]types.AttributeValue) (domain.UsageRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	tokens, err := intAttr(item, "tokens")
	if err != nil {
		return domain.UsageRecord{}, err
	}
	sessionID, _ := strAttr(item, "sessionId") // allow empty
	queryID, _ := strAttr(item, "queryId")     // allow empty
	outcome, _ := strAttr(item, "outcome")     // allow empty
	recordedAt, _ := strAttr(item, "recordedAt")

	return domain.UsageRecord{
		PK:         pk,
		SK:         sk,
		SessionID:  sessionID,
		QueryID:    queryID,
		Outcome:    domain.Outcome(outcome),
		Tokens:     tokens,
		RecordedAt: recordedAt,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.SessionMeta, error) {
	total, err := optionalIntAttr(item, "totalTokens")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	queries, err := optionalIntAttr(item, "queries")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	pk, _ := strAttr(item, "PK")
	sk, _ := strAttr(item, "SK")
	lastActivity, _ := strAttr(item, "lastActivity")
	return domain.SessionMeta{
		PK:           pk,
		SK:           sk,
		LastActivity: lastActivity,
		TotalTokens:  total,
		Queries:      queries,
	}, nil
}

func usageItem(rec domain.UsageRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: rec.PK},
		"SK":         &types.AttributeValueMemberS{Value: rec.SK},
		"sessionId":  &types.AttributeValueMemberS{Value: rec.SessionID},
		"queryId":    &types.AttributeValueMemberS{Value: rec.QueryID},
		"outcome":    &types.AttributeValueMemberS{Value: string(rec.Outcome)},
		"tokens":     &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Tokens)},
		"recordedAt": &types.AttributeValueMemberS{Value: rec.RecordedAt},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)},
	}
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: meta.PK},
		"SK":           &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId":    &types.AttributeValueMemberS{Value: meta.SessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: meta.LastActivity},
		"totalTokens":  &types.AttributeValueMemberN{Value: strconv.Itoa(meta.TotalTokens)},
		"queries":      &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Queries)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// optionalIntAttr treats a missing attribute as zero; ADD creates numeric
// attributes lazily.
func optionalIntAttr(item map[string]types.AttributeValue, key string) (int, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return intAttr(item, key)
}
