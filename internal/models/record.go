package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SearchOrder 搜索结果排序方式
type SearchOrder string

const (
	OrderDefault      SearchOrder = ""        // 综合排序
	OrderMostClick    SearchOrder = "click"   // 最多点击
	OrderLastPublish  SearchOrder = "pubdate" // 最新发布
	OrderMostDanmu    SearchOrder = "dm"      // 最多弹幕
	OrderMostFavorite SearchOrder = "stow"    // 最多收藏
)

// Valid 是否为支持的排序方式
func (o SearchOrder) Valid() bool {
	switch o {
	case OrderDefault, OrderMostClick, OrderLastPublish, OrderMostDanmu, OrderMostFavorite:
		return true
	}
	return false
}

// CommentOrder 评论排序方式
type CommentOrder int

const (
	CommentOrderDefault CommentOrder = 0 // 按热度
	CommentOrderHot     CommentOrder = 2
	CommentOrderTime    CommentOrder = 3 // 按时间
)

// SearchResult 一页搜索结果
type SearchResult struct {
	Keyword  string   `json:"keyword"`
	Page     int      `json:"page"`
	IDs      []string `json:"ids"` // 本页发现的视频aid,保持接口返回顺序
	NumPages int      `json:"num_pages"`
}

// VideoItem 视频详情记录,以ID为唯一键
type VideoItem struct {
	ID            string          `json:"video_id"`
	BVID          string          `json:"bvid"`
	Title         string          `json:"title"`
	OwnerName     string          `json:"owner_name"`
	OwnerID       string          `json:"owner_id"`
	PublishTime   int64           `json:"publish_time"`
	DiscoveredVia CrawlerType     `json:"discovered_via"`
	Raw           json.RawMessage `json:"raw"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// Validate 校验记录最小字段
func (v *VideoItem) Validate() error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("视频记录缺少ID")
	}
	return nil
}

// Comment 评论记录,以 (VideoID, CommentID) 为唯一键
type Comment struct {
	VideoID    string          `json:"video_id"`
	CommentID  string          `json:"comment_id"`
	Content    string          `json:"content"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"nickname"`
	LikeCount  int64           `json:"like_count"`
	CreateTime int64           `json:"create_time"`
	Metadata   json.RawMessage `json:"metadata"`
}

// Key 评论的复合主键
func (c Comment) Key() string {
	return c.VideoID + ":" + c.CommentID
}
