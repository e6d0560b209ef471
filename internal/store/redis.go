package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisOptions Redis存储配置
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisSink Redis存储
// 视频写入哈希 <prefix>video,评论写入哈希 <prefix>comments:<video_id>
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink 创建Redis存储并检查连接
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "bilibili:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败 [%s]: %w", opts.Addr, err)
	}

	return &RedisSink{client: client, prefix: opts.Prefix}, nil
}

func (s *RedisSink) videoKey() string {
	return s.prefix + "video"
}

func (s *RedisSink) commentsKey(itemID string) string {
	return s.prefix + "comments:" + itemID
}

// UpsertItem 实现 models.Sink
func (s *RedisSink) UpsertItem(ctx context.Context, item *models.VideoItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.videoKey(), item.ID, payload).Err()
}

// UpsertComments 实现 models.Sink
func (s *RedisSink) UpsertComments(ctx context.Context, itemID string, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(comments)*2)
	for _, c := range comments {
		c.VideoID = itemID
		payload, err := json.Marshal(c)
		if err != nil {
			return err
		}
		values = append(values, c.CommentID, payload)
	}
	return s.client.HSet(ctx, s.commentsKey(itemID), values...).Err()
}

// GetItem 读取视频,不存在时返回 false
func (s *RedisSink) GetItem(ctx context.Context, id string) (*models.VideoItem, bool, error) {
	val, err := s.client.HGet(ctx, s.videoKey(), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var item models.VideoItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

// Close 实现 models.Sink
func (s *RedisSink) Close() error {
	return s.client.Close()
}
