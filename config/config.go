package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 設定キー。YAML ファイルのキーと同じで、環境変数は大文字にしたもの
const (
	KeyBusinessDays         = "business_days"
	KeySentimentNeutralBand = "sentiment_neutral_band"
	KeyUrgencyKeywords      = "urgency_keywords"
	KeyUpdateKeywords       = "update_keywords"
	KeyTimezone             = "timezone"
	KeySlackBotToken        = "slack_bot_token"
	KeyChannelID            = "channel_id"
	KeyLeadUserIDs          = "lead_user_ids"
	KeyDBDriver             = "db_driver"
	KeyDBPath               = "db_path"
	KeyOpenAIModel          = "openai_model"
	KeyClassifierProvider   = "classifier_provider"
	KeyGeminiModel          = "gemini_model"
	KeyModelTimeout         = "model_timeout"
	KeyRunTimeout           = "run_timeout"
	KeyMaxTurns             = "max_turns"
	KeyMaxToolCalls         = "max_tool_calls"
	KeyClassifyConcurrency  = "classify_concurrency"
	KeySchedule             = "schedule"
	KeyRedisURL             = "redis_url"
	KeyStorageRetries       = "storage_retries"
)

var allKeys = []string{
	KeyBusinessDays, KeySentimentNeutralBand, KeyUrgencyKeywords, KeyUpdateKeywords,
	KeyTimezone, KeySlackBotToken, KeyChannelID, KeyLeadUserIDs, KeyDBDriver, KeyDBPath,
	KeyOpenAIModel, KeyClassifierProvider, KeyGeminiModel, KeyModelTimeout, KeyRunTimeout,
	KeyMaxTurns, KeyMaxToolCalls, KeyClassifyConcurrency, KeySchedule, KeyRedisURL,
	KeyStorageRetries,
}

// 旧来の環境変数名
var envAliases = map[string]string{
	"PROJECT_CHANNEL_ID":   KeyChannelID,
	"PROJECT_LEAD_USER_ID": KeyLeadUserIDs,
	"DB_DRIVER":            KeyDBDriver,
	"DB_PATH":              KeyDBPath,
	"OPENAI_MODEL":         KeyOpenAIModel,
}

type Config struct {
	BusinessDays         int
	SentimentNeutralBand float64
	UrgencyKeywords      []string
	UpdateKeywords       []string
	Location             *time.Location
	SlackBotToken        string
	ChannelID            string
	LeadUserIDs          string
	DBDriver             string
	DBPath               string
	OpenAIModel          string
	ClassifierProvider   string
	GeminiModel          string
	ModelTimeout         time.Duration
	RunTimeout           time.Duration
	MaxTurns             int
	MaxToolCalls         int
	ClassifyConcurrency  int
	Schedule             string
	RedisURL             string
	StorageRetries       int
}

var DefaultUpdateKeywords = []string{
	"update", "actualización", "progreso", "avance", "completado", "terminado",
	"listo", "deploy", "release", "merged", "aprobado", "pasó a", "movido a", "%",
}

var DefaultUrgencyKeywords = []string{
	"urgente", "asap", "prioritario", "critical", "crítico", "bloqueando a otros",
}

func Defaults() map[string]string {
	return map[string]string{
		KeyBusinessDays:         "7",
		KeySentimentNeutralBand: "0.3",
		KeyUrgencyKeywords:      strings.Join(DefaultUrgencyKeywords, ","),
		KeyUpdateKeywords:       strings.Join(DefaultUpdateKeywords, ","),
		KeyTimezone:             "UTC",
		KeyDBDriver:             "sqlite",
		KeyDBPath:               "./db/pulse.db",
		KeyOpenAIModel:          "gpt-4o",
		KeyClassifierProvider:   "keyword",
		KeyGeminiModel:          "gemini-2.0-flash",
		KeyModelTimeout:         "20s",
		KeyRunTimeout:           "10m",
		KeyMaxTurns:             "10",
		KeyMaxToolCalls:         "20",
		KeyClassifyConcurrency:  "4",
		KeySchedule:             "0 9 * * 1",
		KeyStorageRetries:       "3",
	}
}

// Load はデフォルト値、YAML ファイル、.env、環境変数の順に重ねて読み込む
func Load(path string) (*Config, error) {
	values := Defaults()

	if path == "" {
		path = os.Getenv("PULSE_CONFIG")
	}
	if path != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not loaded", slog.Any("err", err))
	}
	for k, v := range fromEnv() {
		values[k] = v
	}
	return FromValues(values)
}

func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case []any:
			parts := make([]string, 0, len(vv))
			for _, p := range vv {
				parts = append(parts, fmt.Sprint(p))
			}
			values[k] = strings.Join(parts, ",")
		case nil:
		default:
			values[k] = fmt.Sprint(vv)
		}
	}
	return values, nil
}

func fromEnv() map[string]string {
	values := map[string]string{}
	for alias, key := range envAliases {
		if v := os.Getenv(alias); v != "" {
			values[key] = v
		}
	}
	for _, key := range allKeys {
		if v := os.Getenv(strings.ToUpper(key)); v != "" {
			values[key] = v
		}
	}
	return values
}

// FromValues は key/value 文字列から Config を組み立てる。未指定のキーはデフォルト値
func FromValues(values map[string]string) (*Config, error) {
	merged := Defaults()
	for k, v := range values {
		merged[k] = v
	}
	p := parser{values: merged}

	cfg := &Config{
		BusinessDays:         p.int(KeyBusinessDays),
		SentimentNeutralBand: p.float(KeySentimentNeutralBand),
		UrgencyKeywords:      splitCSV(merged[KeyUrgencyKeywords]),
		UpdateKeywords:       splitCSV(merged[KeyUpdateKeywords]),
		SlackBotToken:        merged[KeySlackBotToken],
		ChannelID:            merged[KeyChannelID],
		LeadUserIDs:          merged[KeyLeadUserIDs],
		DBDriver:             merged[KeyDBDriver],
		DBPath:               merged[KeyDBPath],
		OpenAIModel:          merged[KeyOpenAIModel],
		ClassifierProvider:   strings.ToLower(merged[KeyClassifierProvider]),
		GeminiModel:          merged[KeyGeminiModel],
		ModelTimeout:         p.duration(KeyModelTimeout),
		RunTimeout:           p.duration(KeyRunTimeout),
		MaxTurns:             p.int(KeyMaxTurns),
		MaxToolCalls:         p.int(KeyMaxToolCalls),
		ClassifyConcurrency:  p.int(KeyClassifyConcurrency),
		Schedule:             merged[KeySchedule],
		RedisURL:             merged[KeyRedisURL],
		StorageRetries:       p.int(KeyStorageRetries),
	}
	if p.err != nil {
		return nil, p.err
	}

	loc, err := time.LoadLocation(merged[KeyTimezone])
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", KeyTimezone, merged[KeyTimezone], err)
	}
	cfg.Location = loc

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BusinessDays < 1 {
		return fmt.Errorf("%s must be >= 1: %d", KeyBusinessDays, c.BusinessDays)
	}
	if c.SentimentNeutralBand < 0 || c.SentimentNeutralBand > 2 {
		return fmt.Errorf("%s must be within [0,2]: %v", KeySentimentNeutralBand, c.SentimentNeutralBand)
	}
	if c.MaxTurns < 1 || c.MaxToolCalls < 1 {
		return fmt.Errorf("%s and %s must be >= 1", KeyMaxTurns, KeyMaxToolCalls)
	}
	if c.ClassifyConcurrency < 1 {
		c.ClassifyConcurrency = 1
	}
	switch c.ClassifierProvider {
	case "keyword", "openai", "gemini":
	default:
		return fmt.Errorf("unknown %s: %q", KeyClassifierProvider, c.ClassifierProvider)
	}
	switch c.DBDriver {
	case "sqlite", "dynamodb":
	default:
		return fmt.Errorf("unknown %s: %q", KeyDBDriver, c.DBDriver)
	}
	return nil
}

// Now は設定したタイムゾーンでの現在時刻
func (c *Config) Now() time.Time {
	return time.Now().In(c.Location)
}

type parser struct {
	values map[string]string
	err    error
}

func (p *parser) int(key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(p.values[key]))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, p.values[key], err)
	}
	return v
}

func (p *parser) float(key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(p.values[key]), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, p.values[key], err)
	}
	return v
}

func (p *parser) duration(key string) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(p.values[key]))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, p.values[key], err)
	}
	return v
}

func splitCSV(csv string) []string {
	var result []string
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, strings.ToLower(p))
		}
	}
	return result
}
