package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
)

// JSONSink JSON文件存储
// 文件名包含爬取模式和日期,内容按ID覆盖写入
type JSONSink struct {
	dir          string
	contentsPath string
	commentsPath string

	mu       sync.Mutex
	items    map[string]models.VideoItem
	comments map[string]models.Comment // key: video_id:comment_id
}

// NewJSONSink 创建JSON存储,已存在的同名文件会被载入以保持幂等
func NewJSONSink(dir string, mode models.CrawlerType) (*JSONSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	s := &JSONSink{
		dir:          dir,
		contentsPath: filepath.Join(dir, fmt.Sprintf("%s_contents_%s.json", mode, date)),
		commentsPath: filepath.Join(dir, fmt.Sprintf("%s_comments_%s.json", mode, date)),
		items:        make(map[string]models.VideoItem),
		comments:     make(map[string]models.Comment),
	}

	var items []models.VideoItem
	if err := loadJSON(s.contentsPath, &items); err != nil {
		return nil, err
	}
	for _, it := range items {
		s.items[it.ID] = it
	}

	var comments []models.Comment
	if err := loadJSON(s.commentsPath, &comments); err != nil {
		return nil, err
	}
	for _, c := range comments {
		s.comments[c.Key()] = c
	}

	return s, nil
}

// UpsertItem 实现 models.Sink
func (s *JSONSink) UpsertItem(ctx context.Context, item *models.VideoItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = *item

	list := make([]models.VideoItem, 0, len(s.items))
	for _, it := range s.items {
		list = append(list, it)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return writeJSONAtomic(s.contentsPath, list)
}

// UpsertComments 实现 models.Sink
func (s *JSONSink) UpsertComments(ctx context.Context, itemID string, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range comments {
		c.VideoID = itemID
		s.comments[c.Key()] = c
	}

	list := make([]models.Comment, 0, len(s.comments))
	for _, c := range s.comments {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
	return writeJSONAtomic(s.commentsPath, list)
}

// ContentsPath 视频文件路径
func (s *JSONSink) ContentsPath() string {
	return s.contentsPath
}

// CommentsPath 评论文件路径
func (s *JSONSink) CommentsPath() string {
	return s.commentsPath
}

// Close 实现 models.Sink
func (s *JSONSink) Close() error {
	return nil
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return nil
}

// writeJSONAtomic 先写临时文件再重命名,避免中断时留下半个文件
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("重命名 %s 失败: %w", tmp, err)
	}
	return nil
}
