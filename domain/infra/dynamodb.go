package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pyama86/slack-pulse/domain/model"
)

type DynamoDB struct {
	db     *dynamodb.Client
	tables dynamoTables
}

type dynamoTables struct {
	messages string
	users    string
	daily    string
	metrics  string
}

func tableNames() dynamoTables {
	prefix := "slack_pulse"
	if os.Getenv("DYNAMO_TABLE_NAME_PREFIX") != "" {
		prefix = os.Getenv("DYNAMO_TABLE_NAME_PREFIX")
	}
	return dynamoTables{
		messages: prefix + "_messages",
		users:    prefix + "_users",
		daily:    prefix + "_daily_analysis",
		metrics:  prefix + "_user_metrics",
	}
}

func NewDynamoDB() (*DynamoDB, error) {
	var db *dynamodb.Client
	if os.Getenv("DYNAMO_LOCAL") != "" {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRegion("dummy"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}

		endpoint := "http://localhost:8000"
		if os.Getenv("DYNAMO_ENDPOINT") != "" {
			endpoint = os.Getenv("DYNAMO_ENDPOINT")
		}
		db = dynamodb.NewFromConfig(cfg,
			func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			},
		)
	} else {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}

		db = dynamodb.NewFromConfig(cfg)
	}
	d := &DynamoDB{
		db:     db,
		tables: tableNames(),
	}
	if os.Getenv("DYNAMO_LOCAL") != "" {
		if err := d.EnsureTable(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

const (
	waitInterval = 2 * time.Second // ポーリング間隔
	maxRetries   = 30              // 最大リトライ回数 (30回 = 約1分)
)

func (d *DynamoDB) EnsureTable() error {
	for _, input := range d.tableDefinitions() {
		if err := d.ensureSingleTable(input); err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", aws.ToString(input.TableName), err)
		}
	}
	return nil
}

func (d *DynamoDB) ensureSingleTable(input *dynamodb.CreateTableInput) error {
	_, err := d.db.DescribeTable(context.TODO(), &dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})
	if err == nil {
		// テーブルが既に存在する
		return nil
	}

	if _, err := d.db.CreateTable(context.TODO(), input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// テーブルがACTIVEになるまで待機
	for i := 0; i < maxRetries; i++ {
		out, err := d.db.DescribeTable(context.TODO(), &dynamodb.DescribeTableInput{
			TableName: input.TableName,
		})
		if err != nil {
			return fmt.Errorf("failed to describe table: %w", err)
		}
		if out.Table.TableStatus == types.TableStatusActive {
			return nil
		}
		time.Sleep(waitInterval)
	}
	return fmt.Errorf("table creation timed out")
}

func (d *DynamoDB) tableDefinitions() []*dynamodb.CreateTableInput {
	table := func(name, hash, rng string) *dynamodb.CreateTableInput {
		in := &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(hash), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
			},
			ProvisionedThroughput: &types.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(5),
				WriteCapacityUnits: aws.Int64(5),
			},
		}
		if rng != "" {
			in.AttributeDefinitions = append(in.AttributeDefinitions,
				types.AttributeDefinition{AttributeName: aws.String(rng), AttributeType: types.ScalarAttributeTypeS})
			in.KeySchema = append(in.KeySchema,
				types.KeySchemaElement{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange})
		}
		return in
	}
	return []*dynamodb.CreateTableInput{
		table(d.tables.messages, "channel_id", "ts"),
		table(d.tables.users, "user_id", ""),
		table(d.tables.daily, "channel_id", "analysis_date"),
		table(d.tables.metrics, "channel_user", "metric_date"),
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func messageKey(channelID, ts string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"channel_id": &types.AttributeValueMemberS{Value: channelID},
		"ts":         &types.AttributeValueMemberS{Value: ts},
	}
}

func dailyKey(channelID, date string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"channel_id":    &types.AttributeValueMemberS{Value: channelID},
		"analysis_date": &types.AttributeValueMemberS{Value: date},
	}
}

func metricKey(m *model.UserMetric) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"channel_user": &types.AttributeValueMemberS{Value: m.ChannelID + "#" + m.UserID},
		"metric_date":  &types.AttributeValueMemberS{Value: m.MetricDate},
	}
}

func (d *DynamoDB) UpsertMessage(m *model.Message) (bool, error) {
	item := messageKey(m.ChannelID, m.TS)
	item["message_id"] = &types.AttributeValueMemberS{Value: m.MessageID}
	item["user_id"] = &types.AttributeValueMemberS{Value: m.UserID}
	item["user_name"] = &types.AttributeValueMemberS{Value: m.UserName}
	item["text"] = &types.AttributeValueMemberS{Value: m.Text}
	item["timestamp"] = &types.AttributeValueMemberS{Value: m.Timestamp.UTC().Format(time.RFC3339Nano)}
	item["thread_ts"] = &types.AttributeValueMemberS{Value: m.ThreadTS}
	item["reply_count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(m.ReplyCount)}
	item["kind"] = &types.AttributeValueMemberS{Value: m.Kind}
	item["is_update"] = &types.AttributeValueMemberBOOL{Value: m.IsUpdate}
	item["contains_decision"] = &types.AttributeValueMemberBOOL{Value: m.ContainsDecision}
	item["contains_blocker"] = &types.AttributeValueMemberBOOL{Value: m.ContainsBlocker}
	item["created_at"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	_, err := d.db.PutItem(context.TODO(), &dynamodb.PutItemInput{
		TableName:                aws.String(d.tables.messages),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#ts)"),
		ExpressionAttributeNames: map[string]string{"#ts": "ts"},
	})
	if err == nil {
		return true, nil
	}
	if !isConditionFailed(err) {
		return false, err
	}

	// 既存メッセージは管理用のフィールドだけ更新する
	_, err = d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tables.messages),
		Key:              messageKey(m.ChannelID, m.TS),
		UpdateExpression: aws.String("SET reply_count = :rc, thread_ts = :tts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rc":  &types.AttributeValueMemberN{Value: strconv.Itoa(m.ReplyCount)},
			":tts": &types.AttributeValueMemberS{Value: m.ThreadTS},
		},
	})
	return false, err
}

func (d *DynamoDB) TouchUser(u *model.User, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tables.users),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: u.UserID},
		},
		UpdateExpression: aws.String("SET display_name = :dn, username = :un, is_bot = :bot, is_admin = :admin, " +
			"first_seen_at = if_not_exists(first_seen_at, :at), last_active_at = :at ADD total_messages :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":dn":    &types.AttributeValueMemberS{Value: u.DisplayName},
			":un":    &types.AttributeValueMemberS{Value: u.Username},
			":bot":   &types.AttributeValueMemberBOOL{Value: u.IsBot},
			":admin": &types.AttributeValueMemberBOOL{Value: u.IsAdmin},
			":at":    &types.AttributeValueMemberS{Value: ts},
			":one":   &types.AttributeValueMemberN{Value: "1"},
		},
	})
	return err
}

func (d *DynamoDB) SaveMessageAnalysis(id string, a model.Analysis) error {
	channelID, ts, ok := splitMessageID(id)
	if !ok {
		return fmt.Errorf("invalid message id: %s", id)
	}
	expr := "SET is_update = :upd, contains_decision = :dec, contains_blocker = :blk"
	values := map[string]types.AttributeValue{
		":upd": &types.AttributeValueMemberBOOL{Value: a.IsUpdate},
		":dec": &types.AttributeValueMemberBOOL{Value: a.ContainsDecision},
		":blk": &types.AttributeValueMemberBOOL{Value: a.ContainsBlocker},
	}
	if a.SentimentScore != nil {
		expr += ", sentiment_score = :sent"
		values[":sent"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*a.SentimentScore, 'f', -1, 64)}
	}
	if a.UrgencyLevel != nil {
		expr += ", urgency_level = :urg"
		values[":urg"] = &types.AttributeValueMemberS{Value: string(*a.UrgencyLevel)}
	}
	_, err := d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tables.messages),
		Key:                       messageKey(channelID, ts),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#ts)"),
		ExpressionAttributeNames:  map[string]string{"#ts": "ts"},
		ExpressionAttributeValues: values,
	})
	return err
}

func (d *DynamoDB) SaveDailyAnalysis(row *model.DailyAnalysis, today string) error {
	values := map[string]types.AttributeValue{
		":total": number(row.TotalMessages),
		":users": number(row.ActiveUsers),
		":upd":   number(row.UpdatesCount),
		":dec":   number(row.DecisionsCount),
		":blk":   number(row.BlockersCount),
		":sent":  optionalFloat(row.SentimentScore),
		":hlth":  float(row.TeamHealthScore),
		":urg":   float(row.UrgencyScore),
	}
	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tables.daily),
		Key:       dailyKey(row.ChannelID, row.AnalysisDate),
		UpdateExpression: aws.String("SET total_messages = :total, active_users = :users, updates_count = :upd, " +
			"decisions_count = :dec, blockers_count = :blk, sentiment_score = :sent, team_health_score = :hlth, urgency_score = :urg"),
		ExpressionAttributeValues: values,
	}
	// 過去の日付は確定済み
	if row.AnalysisDate != today {
		in.ConditionExpression = aws.String("attribute_not_exists(analysis_date)")
	}
	_, err := d.db.UpdateItem(context.TODO(), in)
	if isConditionFailed(err) {
		return nil
	}
	return err
}

func (d *DynamoDB) SaveUserMetric(row *model.UserMetric, today string) error {
	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tables.metrics),
		Key:       metricKey(row),
		UpdateExpression: aws.String("SET user_id = :uid, channel_id = :cid, message_count = :msg, update_count = :upd, " +
			"decision_count = :dec, question_count = :q, answer_count = :a, sentiment_avg = :sent, collaboration_score = :col"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":  &types.AttributeValueMemberS{Value: row.UserID},
			":cid":  &types.AttributeValueMemberS{Value: row.ChannelID},
			":msg":  number(row.MessageCount),
			":upd":  number(row.UpdateCount),
			":dec":  number(row.DecisionCount),
			":q":    number(row.QuestionCount),
			":a":    number(row.AnswerCount),
			":sent": optionalFloat(row.SentimentAvg),
			":col":  float(row.CollaborationScore),
		},
	}
	if row.MetricDate != today {
		in.ConditionExpression = aws.String("attribute_not_exists(metric_date)")
	}
	_, err := d.db.UpdateItem(context.TODO(), in)
	if isConditionFailed(err) {
		return nil
	}
	return err
}

func (d *DynamoDB) SaveReport(channelID, date, content, source string) error {
	_, err := d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tables.daily),
		Key:              dailyKey(channelID, date),
		UpdateExpression: aws.String("SET report_content = :body, report_source = :src, report_sent = :sent"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":body": &types.AttributeValueMemberS{Value: content},
			":src":  &types.AttributeValueMemberS{Value: source},
			":sent": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	return err
}

func (d *DynamoDB) MarkReportSent(channelID, date string) error {
	_, err := d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tables.daily),
		Key:                 dailyKey(channelID, date),
		UpdateExpression:    aws.String("SET report_sent = :sent"),
		ConditionExpression: aws.String("attribute_exists(analysis_date)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sent": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("daily analysis not found: channel=%s date=%s", channelID, date)
	}
	return err
}

func (d *DynamoDB) GetDailyAnalysis(channelID, date string) (*model.DailyAnalysis, error) {
	result, err := d.db.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName: aws.String(d.tables.daily),
		Key:       dailyKey(channelID, date),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, nil
	}
	item := result.Item
	return &model.DailyAnalysis{
		ChannelID:       getStringValue(item, "channel_id"),
		AnalysisDate:    getStringValue(item, "analysis_date"),
		TotalMessages:   getIntValue(item, "total_messages"),
		ActiveUsers:     getIntValue(item, "active_users"),
		UpdatesCount:    getIntValue(item, "updates_count"),
		DecisionsCount:  getIntValue(item, "decisions_count"),
		BlockersCount:   getIntValue(item, "blockers_count"),
		SentimentScore:  getFloatValue(item, "sentiment_score"),
		TeamHealthScore: derefFloat(getFloatValue(item, "team_health_score")),
		UrgencyScore:    derefFloat(getFloatValue(item, "urgency_score")),
		ReportContent:   getStringValue(item, "report_content"),
		ReportSource:    getStringValue(item, "report_source"),
		ReportSent:      getBoolValue(item, "report_sent"),
	}, nil
}

func (d *DynamoDB) ListMessages(channelID string) ([]model.Message, error) {
	var msgs []model.Message
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tables.messages),
		KeyConditionExpression: aws.String("channel_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: channelID},
		},
	}
	for {
		result, err := d.db.Query(context.TODO(), input)
		if err != nil {
			return nil, err
		}
		for _, item := range result.Items {
			ts, err := time.Parse(time.RFC3339Nano, getStringValue(item, "timestamp"))
			if err != nil {
				return nil, fmt.Errorf("failed to parse timestamp: %w", err)
			}
			m := model.Message{
				MessageID:        getStringValue(item, "message_id"),
				ChannelID:        getStringValue(item, "channel_id"),
				UserID:           getStringValue(item, "user_id"),
				UserName:         getStringValue(item, "user_name"),
				Text:             getStringValue(item, "text"),
				TS:               getStringValue(item, "ts"),
				Timestamp:        ts,
				ThreadTS:         getStringValue(item, "thread_ts"),
				ReplyCount:       getIntValue(item, "reply_count"),
				Kind:             getStringValue(item, "kind"),
				IsUpdate:         getBoolValue(item, "is_update"),
				SentimentScore:   getFloatValue(item, "sentiment_score"),
				ContainsDecision: getBoolValue(item, "contains_decision"),
				ContainsBlocker:  getBoolValue(item, "contains_blocker"),
			}
			if u := getStringValue(item, "urgency_level"); u != "" {
				m.UrgencyLevel = &u
			}
			msgs = append(msgs, m)
		}
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return msgs, nil
}

func splitMessageID(id string) (string, string, bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i], id[i+1:], i > 0 && i < len(id)-1
		}
	}
	return "", "", false
}

func number(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func float(f float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

func optionalFloat(f *float64) types.AttributeValue {
	if f == nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return float(*f)
}

func getStringValue(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getIntValue(item map[string]types.AttributeValue, key string) int {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.Atoi(v.Value)
		return n
	}
	return 0
}

func getFloatValue(item map[string]types.AttributeValue, key string) *float64 {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		f, err := strconv.ParseFloat(v.Value, 64)
		if err == nil {
			return &f
		}
	}
	return nil
}

func getBoolValue(item map[string]types.AttributeValue, key string) bool {
	if v, ok := item[key].(*types.AttributeValueMemberBOOL); ok {
		return v.Value
	}
	return false
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
