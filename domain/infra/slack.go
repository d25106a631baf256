package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pyama86/slack-pulse/domain/model"
	"github.com/slack-go/slack"
)

type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slack.User, error)
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

const pageLimit = 200

// Slack はチャットプラットフォームとのやりとりをまとめたクライアント
type Slack struct {
	client        SlackAPI
	userInfoCache *ttlcache.Cache[string, *slack.User]

	mu           sync.Mutex
	workspaceURL string
}

func NewSlack(client SlackAPI) *Slack {
	s := &Slack{
		client:        client,
		userInfoCache: ttlcache.New(ttlcache.WithTTL[string, *slack.User](24 * time.Hour)),
	}
	return s
}

func NewSlackFromToken(token string, options ...slack.Option) *Slack {
	return NewSlack(slack.New(token, options...))
}

// FetchMessages は [since, until] のメッセージとスレッドの返信をすべて取得する。
// 途中で失敗した場合は取得済みの分も含めて破棄する
func (s *Slack) FetchMessages(ctx context.Context, channelID string, since, until time.Time) ([]model.RawMessage, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    formatTS(since),
		Latest:    formatTS(until),
		Inclusive: true,
		Limit:     pageLimit,
	}

	var result []model.RawMessage
	for {
		history, err := s.client.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.history failed: %w", err)
		}
		for _, m := range history.Messages {
			raw, err := toRawMessage(channelID, m)
			if err != nil {
				return nil, err
			}
			result = append(result, raw)

			if m.ReplyCount > 0 {
				replies, err := s.fetchReplies(ctx, channelID, m.Timestamp, params.Oldest, params.Latest)
				if err != nil {
					return nil, err
				}
				result = append(result, replies...)
			}
		}
		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}
	return result, nil
}

func (s *Slack) fetchReplies(ctx context.Context, channelID, threadTS, oldest, latest string) ([]model.RawMessage, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Oldest:    oldest,
		Latest:    latest,
		Inclusive: true,
		Limit:     pageLimit,
	}
	var result []model.RawMessage
	for {
		msgs, hasMore, cursor, err := s.client.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.replies failed: %w", err)
		}
		for _, m := range msgs {
			// 先頭は親メッセージ
			if m.Timestamp == threadTS {
				continue
			}
			raw, err := toRawMessage(channelID, m)
			if err != nil {
				return nil, err
			}
			result = append(result, raw)
		}
		if !hasMore || cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	return result, nil
}

func toRawMessage(channelID string, m slack.Message) (model.RawMessage, error) {
	at, err := ParseTS(m.Timestamp)
	if err != nil {
		return model.RawMessage{}, err
	}
	return model.RawMessage{
		ChannelID:  channelID,
		UserID:     m.User,
		BotID:      m.BotID,
		Username:   m.Username,
		Text:       m.Text,
		TS:         m.Timestamp,
		Time:       at,
		ThreadTS:   m.ThreadTimestamp,
		ReplyCount: m.ReplyCount,
		SubType:    m.SubType,
	}, nil
}

// ParseTS は "1729504800.000100" 形式の ts を時刻にする
func ParseTS(ts string) (time.Time, error) {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q: %w", ts, err)
	}
	var usec int64
	if frac != "" {
		frac = (frac + "000000")[:6]
		usec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid ts %q: %w", ts, err)
		}
	}
	return time.Unix(s, usec*int64(time.Microsecond)).UTC(), nil
}

func formatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}

func (s *Slack) getUserInfo(ctx context.Context, userID string) (*slack.User, error) {
	cacheKey := "user_" + userID
	if user := s.userInfoCache.Get(cacheKey); user != nil {
		return user.Value(), nil
	}
	user, err := s.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.userInfoCache.Set(cacheKey, user, ttlcache.DefaultTTL)
	return user, nil
}

func getUserPreferredName(user *slack.User) string {
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	if user.RealName != "" {
		return user.RealName
	}
	return user.Name
}

// FetchUser はユーザー情報を model.User にして返す
func (s *Slack) FetchUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.getUserInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info failed: %w", err)
	}
	return &model.User{
		UserID:      u.ID,
		DisplayName: getUserPreferredName(u),
		Username:    u.Name,
		IsBot:       u.IsBot,
		IsAdmin:     u.IsAdmin,
	}, nil
}

// Members はチャンネルの参加者 ID を返す
func (s *Slack) Members(ctx context.Context, channelID string) ([]string, error) {
	params := &slack.GetUsersInConversationParameters{
		ChannelID: channelID,
		Limit:     pageLimit,
	}
	var members []string
	for {
		ids, cursor, err := s.client.GetUsersInConversationContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.members failed: %w", err)
		}
		members = append(members, ids...)
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	return members, nil
}

func (s *Slack) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", fmt.Errorf("conversations.info failed: %w", err)
	}
	return ch.Name, nil
}

// Permalink はメッセージへのリンクを組み立てる。ワークスペースの URL が取れない場合は空文字
func (s *Slack) Permalink(ctx context.Context, channelID, ts string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workspaceURL == "" {
		auth, err := s.client.AuthTestContext(ctx)
		if err != nil || auth.URL == "" {
			return ""
		}
		s.workspaceURL = strings.TrimSuffix(auth.URL, "/")
	}
	return fmt.Sprintf("%s/archives/%s/p%s", s.workspaceURL, channelID, strings.Replace(ts, ".", "", 1))
}

// SendDirectMessage は DM を開いてテキストを送る
func (s *Slack) SendDirectMessage(ctx context.Context, userID, text string) error {
	ch, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return fmt.Errorf("conversations.open failed: %w", err)
	}
	if _, _, err := s.client.PostMessageContext(ctx, ch.ID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	); err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
