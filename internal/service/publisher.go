package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feed-service/internal/event"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/pkg/logger"
)

var ErrEmptyBody = errors.New("post body is empty")

// PostInput 发帖参数
type PostInput struct {
	AuthorID string
	Body     string
	Hashtags []string
	Mentions []string
	ReplyTo  *int64
	QuoteOf  *int64
	RepostOf *int64
	// IdempotencyKey 客户端重试去重；为空则不启用
	IdempotencyKey string
}

// Publisher 写路径：帖子/点赞与 outbox 事件同事务落库。
// 帖子在事务提交那一刻即视为创建成功，下游扇出与热榜成败与其无关。
type Publisher struct {
	db      *gorm.DB
	idem    repository.IdempotencyRepository
	posts   repository.PostRepository
	idemTTL time.Duration
}

func NewPublisher(db *gorm.DB, idem repository.IdempotencyRepository, posts repository.PostRepository) *Publisher {
	return &Publisher{db: db, idem: idem, posts: posts, idemTTL: 24 * time.Hour}
}

// CreatePost 落帖 + outbox(post_created)；幂等键命中直接返回原帖
func (p *Publisher) CreatePost(ctx context.Context, in PostInput) (*model.Post, error) {
	if in.Body == "" && in.RepostOf == nil {
		return nil, ErrEmptyBody
	}
	if in.IdempotencyKey != "" {
		rec, err := p.idem.Get(ctx, in.AuthorID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return p.posts.GetByID(ctx, rec.PostID)
		}
	}

	post := &model.Post{
		AuthorID:  in.AuthorID,
		Body:      in.Body,
		ReplyTo:   in.ReplyTo,
		QuoteOf:   in.QuoteOf,
		RepostOf:  in.RepostOf,
		CreatedAt: time.Now(),
	}
	post.SetHashtags(in.Hashtags)
	post.SetMentions(in.Mentions)

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		// 父计数属于“触发器式”维护，与创建同事务
		if in.ReplyTo != nil {
			if err := incrCounter(tx, *in.ReplyTo, "reply_count"); err != nil {
				return err
			}
		}
		if in.RepostOf != nil {
			if err := incrCounter(tx, *in.RepostOf, "repost_count"); err != nil {
				return err
			}
		}
		ev := event.PostCreated{
			Envelope:  event.NewEnvelope(event.TypePostCreated, uuid.New().String()),
			PostID:    post.ID,
			AuthorID:  post.AuthorID,
			Content:   post.Body,
			Hashtags:  in.Hashtags,
			Mentions:  in.Mentions,
			ReplyTo:   in.ReplyTo,
			QuoteOf:   in.QuoteOf,
			RepostOf:  in.RepostOf,
			CreatedAt: post.CreatedAt.UnixMilli(),
		}
		if err := appendOutbox(tx, event.Event{PostCreated: &ev}, post.AuthorID); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			rec := &model.IdempotencyKey{
				ID:        uuid.New().String(),
				UserID:    in.AuthorID,
				Key:       in.IdempotencyKey,
				PostID:    post.ID,
				ExpiresAt: time.Now().Add(p.idemTTL),
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// StartPurge 周期清理过期幂等记录，表不会无界增长
func (p *Publisher) StartPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.idem.PurgeExpired(ctx); err != nil {
					logger.Warn("publisher: idempotency purge failed", zap.Error(err))
				}
			}
		}
	}()
}

// LikePost 点赞：重复点赞幂等（不重复计数、不重复发事件）
func (p *Publisher) LikePost(ctx context.Context, userID string, postID int64) error {
	if _, err := p.posts.GetByID(ctx, postID); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		like := &model.Like{ID: uuid.New().String(), UserID: userID, PostID: postID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(like)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := incrCounter(tx, postID, "like_count"); err != nil {
			return err
		}
		ev := event.PostLiked{
			Envelope: event.NewEnvelope(event.TypePostLiked, uuid.New().String()),
			UserID:   userID,
			PostID:   postID,
		}
		return appendOutbox(tx, event.Event{PostLiked: &ev}, userID)
	})
}

func incrCounter(tx *gorm.DB, postID int64, column string) error {
	return tx.Model(&model.Post{}).Where("id = ?", postID).
		Update(column, gorm.Expr(column+" + 1")).Error
}

func appendOutbox(tx *gorm.DB, ev event.Event, partitionKey string) error {
	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}
	row := &model.Outbox{
		ID:           uuid.New().String(),
		EventType:    ev.Type(),
		PartitionKey: partitionKey,
		Payload:      string(payload),
		Status:       model.OutboxPending,
		CreatedAt:    time.Now(),
	}
	return tx.Create(row).Error
}
