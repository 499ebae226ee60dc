// Package event defines the wire schema of the feed event stream.
// Payloads are decoded exactly once at the consumption boundary into
// tagged variants; downstream code never touches raw maps.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypePostCreated = "post_created"
	TypePostLiked   = "post_liked"
)

// Envelope 事件公共头
type Envelope struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// PostCreated 发帖事件
type PostCreated struct {
	Envelope
	PostID    int64    `json:"postId"`
	AuthorID  string   `json:"authorId"`
	Content   string   `json:"content"`
	Hashtags  []string `json:"hashtags"`
	Mentions  []string `json:"mentions"`
	ReplyTo   *int64   `json:"replyTo,omitempty"`
	QuoteOf   *int64   `json:"quoteOf,omitempty"`
	RepostOf  *int64   `json:"repostOf,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}

// PostLiked 点赞事件
type PostLiked struct {
	Envelope
	UserID string `json:"userId"`
	PostID int64  `json:"tweetId"`
}

// Event 解码后的变体，恰好一个字段非 nil
type Event struct {
	PostCreated *PostCreated
	PostLiked   *PostLiked
}

func (e Event) MessageID() string {
	switch {
	case e.PostCreated != nil:
		return e.PostCreated.MessageID
	case e.PostLiked != nil:
		return e.PostLiked.MessageID
	}
	return ""
}

func (e Event) Type() string {
	switch {
	case e.PostCreated != nil:
		return TypePostCreated
	case e.PostLiked != nil:
		return TypePostLiked
	}
	return ""
}

// Encode 序列化为流 payload
func Encode(e Event) ([]byte, error) {
	switch {
	case e.PostCreated != nil:
		return json.Marshal(e.PostCreated)
	case e.PostLiked != nil:
		return json.Marshal(e.PostLiked)
	}
	return nil, fmt.Errorf("event: empty variant")
}

// Decode 在消费边界做一次强类型解码
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("event: decode envelope: %w", err)
	}
	switch env.Type {
	case TypePostCreated:
		var v PostCreated
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, fmt.Errorf("event: decode %s: %w", env.Type, err)
		}
		return Event{PostCreated: &v}, nil
	case TypePostLiked:
		var v PostLiked
		if err := json.Unmarshal(data, &v); err != nil {
			return Event{}, fmt.Errorf("event: decode %s: %w", env.Type, err)
		}
		return Event{PostLiked: &v}, nil
	default:
		return Event{}, fmt.Errorf("event: unknown type %q", env.Type)
	}
}

// NewEnvelope 构造公共头
func NewEnvelope(typ, messageID string) Envelope {
	return Envelope{Type: typ, MessageID: messageID, Timestamp: time.Now().UnixMilli()}
}
