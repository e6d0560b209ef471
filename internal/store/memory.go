package store

import (
	"context"
	"sync"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
)

// MemorySink 内存存储
type MemorySink struct {
	mu       sync.RWMutex
	items    map[string]models.VideoItem
	comments map[string]map[string]models.Comment // video_id -> comment_id -> comment

	itemWrites int
}

// NewMemorySink 创建内存存储
func NewMemorySink() *MemorySink {
	return &MemorySink{
		items:    make(map[string]models.VideoItem),
		comments: make(map[string]map[string]models.Comment),
	}
}

// UpsertItem 实现 models.Sink
func (s *MemorySink) UpsertItem(ctx context.Context, item *models.VideoItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	s.itemWrites++
	return nil
}

// UpsertComments 实现 models.Sink
func (s *MemorySink) UpsertComments(ctx context.Context, itemID string, comments []models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.comments[itemID]
	if !ok {
		bucket = make(map[string]models.Comment)
		s.comments[itemID] = bucket
	}
	for _, c := range comments {
		c.VideoID = itemID
		bucket[c.CommentID] = c
	}
	return nil
}

// Close 实现 models.Sink
func (s *MemorySink) Close() error {
	return nil
}

// Item 读取视频
func (s *MemorySink) Item(id string) (models.VideoItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// ItemCount 已存储的视频数
func (s *MemorySink) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ItemWrites UpsertItem 成功调用次数
func (s *MemorySink) ItemWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemWrites
}

// Comments 读取某视频的评论
func (s *MemorySink) Comments(itemID string) []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Comment, 0, len(s.comments[itemID]))
	for _, c := range s.comments[itemID] {
		result = append(result, c)
	}
	return result
}

// HasComments 是否写入过该视频的评论(包括空列表)
func (s *MemorySink) HasComments(itemID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.comments[itemID]
	return ok
}
