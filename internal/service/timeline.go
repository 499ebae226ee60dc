package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/internal/model"
	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/pkg/logger"
)

const (
	// MaxTimelineLimit 单页上限
	MaxTimelineLimit = 100
	// pullLimit 大 V pull 路径单次拉取量；覆盖一页绰绰有余
	pullLimit = 200
)

// TimelinePost 读接口返回形状
type TimelinePost struct {
	ID          int64         `json:"id"`
	AuthorID    string        `json:"authorId"`
	Body        string        `json:"body"`
	Hashtags    []string      `json:"hashtags,omitempty"`
	Mentions    []string      `json:"mentions,omitempty"`
	ReplyTo     *int64        `json:"replyTo,omitempty"`
	QuoteOf     *int64        `json:"quoteOf,omitempty"`
	RepostOf    *int64        `json:"repostOf,omitempty"`
	LikeCount   int64         `json:"likeCount"`
	RepostCount int64         `json:"repostCount"`
	ReplyCount  int64         `json:"replyCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	Liked       bool          `json:"liked"`
	Reposted    bool          `json:"reposted"`
	Original    *TimelinePost `json:"original,omitempty"`
}

// TimelinePage 一页 + 翻页游标（空串表示没有下一页）
type TimelinePage struct {
	Posts      []TimelinePost `json:"posts"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// TimelineService 读路径拼装：
// 缓存（push 内容）∪ 大 V 直查（pull 内容）→ 去重 → 时间倒序 → 游标分页
type TimelineService struct {
	tl      *cache.TimelineCache
	posts   repository.PostRepository
	follows repository.FollowRepository
}

func NewTimelineService(tl *cache.TimelineCache, posts repository.PostRepository, follows repository.FollowRepository) *TimelineService {
	return &TimelineService{tl: tl, posts: posts, follows: follows}
}

// GetTimeline before=0 表示第一页；否则只取 id < before 的条目
func (s *TimelineService) GetTimeline(ctx context.Context, userID string, limit int, before int64) (*TimelinePage, error) {
	if limit <= 0 || limit > MaxTimelineLimit {
		limit = MaxTimelineLimit
	}

	// 1. push 路径：缓存里的 post id。缓存故障降级为纯 pull，不报错。
	cachedIDs, err := s.tl.Read(ctx, userID)
	if err != nil {
		logger.Warn("timeline: cache read failed, degrading to pull-only",
			zap.String("user_id", userID), zap.Error(err))
		cachedIDs = nil
	}
	cachedPosts, err := s.posts.GetByIDs(ctx, cachedIDs)
	if err != nil {
		return nil, err
	}

	// 2. pull 路径：关注的大 V 近帖直查主存储。
	// 游标传进查询，窗口随翻页后移，大 V 深页内容不会被截断
	celebIDs, err := s.follows.CelebrityFollowees(ctx, userID)
	if err != nil {
		return nil, err
	}
	celebPosts, err := s.posts.RecentByAuthors(ctx, celebIDs, before, pullLimit)
	if err != nil {
		return nil, err
	}

	// 3. 按 post id 并集去重（作者身份切换期间同帖可能两路都出现）
	union := make(map[int64]model.Post, len(cachedPosts)+len(celebPosts))
	for _, p := range cachedPosts {
		union[p.ID] = p
	}
	for _, p := range celebPosts {
		union[p.ID] = p
	}

	// 4. 时间倒序，游标截断，取一页
	merged := make([]model.Post, 0, len(union))
	for _, p := range union {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID > merged[j].ID
	})
	if before > 0 {
		kept := merged[:0]
		for _, p := range merged {
			if p.ID < before {
				kept = append(kept, p)
			}
		}
		merged = kept
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}

	page, err := s.hydrate(ctx, userID, merged)
	if err != nil {
		return nil, err
	}
	if len(merged) == limit && limit > 0 {
		page.NextCursor = strconv.FormatInt(merged[len(merged)-1].ID, 10)
	}
	return page, nil
}

// hydrate 批量补齐点赞/转发状态与转发原帖
func (s *TimelineService) hydrate(ctx context.Context, userID string, posts []model.Post) (*TimelinePage, error) {
	ids := make([]int64, len(posts))
	var originalIDs []int64
	for i, p := range posts {
		ids[i] = p.ID
		if p.RepostOf != nil {
			originalIDs = append(originalIDs, *p.RepostOf)
		}
	}
	liked, err := s.posts.LikedSet(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	reposted, err := s.posts.RepostedSet(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	originals := make(map[int64]model.Post)
	if len(originalIDs) > 0 {
		rows, err := s.posts.GetByIDs(ctx, originalIDs)
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			originals[p.ID] = p
		}
	}

	out := make([]TimelinePost, 0, len(posts))
	for _, p := range posts {
		tp := toTimelinePost(p)
		tp.Liked = liked[p.ID]
		tp.Reposted = reposted[p.ID]
		if p.RepostOf != nil {
			if orig, ok := originals[*p.RepostOf]; ok {
				o := toTimelinePost(orig)
				tp.Original = &o
			}
		}
		out = append(out, tp)
	}
	return &TimelinePage{Posts: out}, nil
}

func toTimelinePost(p model.Post) TimelinePost {
	return TimelinePost{
		ID:          p.ID,
		AuthorID:    p.AuthorID,
		Body:        p.Body,
		Hashtags:    p.HashtagList(),
		Mentions:    p.MentionList(),
		ReplyTo:     p.ReplyTo,
		QuoteOf:     p.QuoteOf,
		RepostOf:    p.RepostOf,
		LikeCount:   p.LikeCount,
		RepostCount: p.RepostCount,
		ReplyCount:  p.ReplyCount,
		CreatedAt:   p.CreatedAt,
	}
}

// Rebuild 从主存储整体重建某用户缓存：关注的非大 V 作者 + 本人近帖，
// 时间倒序截断到缓存上限后整体覆盖。幂等，可与在线扇出并发。
func (s *TimelineService) Rebuild(ctx context.Context, userID string) error {
	authors, err := s.follows.NonCelebrityFollowees(ctx, userID)
	if err != nil {
		return err
	}
	authors = append(authors, userID)
	posts, err := s.posts.RecentByAuthors(ctx, authors, 0, int(s.tl.Max()))
	if err != nil {
		return err
	}
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return s.tl.Overwrite(ctx, userID, ids)
}
