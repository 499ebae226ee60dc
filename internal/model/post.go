package model

import (
	"encoding/json"
	"time"
)

// Post 内容主体。创建后不可变，计数与软删除除外；
// 计数只由事件处理器修改，扇出路径不触碰。
type Post struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	AuthorID string `gorm:"type:varchar(36);index:idx_post_author_created"`
	Body     string `gorm:"type:text"`
	// Hashtags / Mentions 存 JSON 数组文本
	Hashtags string `gorm:"type:text"`
	Mentions string `gorm:"type:text"`

	ReplyTo  *int64
	QuoteOf  *int64
	RepostOf *int64 `gorm:"index"`

	LikeCount   int64 `gorm:"not null;default:0"`
	RepostCount int64 `gorm:"not null;default:0"`
	ReplyCount  int64 `gorm:"not null;default:0"`

	Deleted   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index:idx_post_author_created"`
}

func (Post) TableName() string { return "posts" }

func (p *Post) HashtagList() []string  { return decodeList(p.Hashtags) }
func (p *Post) MentionList() []string  { return decodeList(p.Mentions) }
func (p *Post) SetHashtags(v []string) { p.Hashtags = encodeList(v) }
func (p *Post) SetMentions(v []string) { p.Mentions = encodeList(v) }

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
