package models

import (
	"fmt"
	"strings"
)

// CrawlerType 爬取类型
type CrawlerType string

const (
	CrawlerTypeSearch CrawlerType = "search" // 关键词搜索
	CrawlerTypeDetail CrawlerType = "detail" // 指定视频ID
)

// DefaultSearchPageSize 搜索接口的固定分页大小
const DefaultSearchPageSize = 20

// ParseCrawlerType 解析爬取类型字符串
func ParseCrawlerType(s string) (CrawlerType, error) {
	switch CrawlerType(strings.ToLower(strings.TrimSpace(s))) {
	case CrawlerTypeSearch:
		return CrawlerTypeSearch, nil
	case CrawlerTypeDetail:
		return CrawlerTypeDetail, nil
	default:
		return "", fmt.Errorf("无效的爬取类型: %s (有效值: search, detail)", s)
	}
}

// CrawlJob 单次运行的爬取任务
// 运行开始时由配置构建一次,之后只读
type CrawlJob struct {
	Mode               CrawlerType `json:"mode"`
	Keywords           []string    `json:"keywords"`
	ExplicitIDs        []string    `json:"explicit_ids"`          // 按插入顺序去重
	MaxItems           int         `json:"max_items"`             // 每个关键词最多爬取的视频数
	MaxCommentsPerItem int         `json:"max_comments_per_item"` // <=0 表示不限制
	CommentKeywords    []string    `json:"comment_keywords"`      // 为空表示不过滤
	PageSize           int         `json:"page_size"`
	SearchOrder        SearchOrder `json:"search_order"`
}

// JobOptions 构建CrawlJob所需的原始参数
type JobOptions struct {
	Mode               CrawlerType
	Keywords           []string
	ExplicitIDs        []string
	MaxItems           int
	MaxCommentsPerItem int
	CommentKeywords    []string
	PageSize           int
	SearchOrder        SearchOrder
}

// NewCrawlJob 构建并校验爬取任务
// 所有切片都会被复制,调用方后续修改不影响任务
func NewCrawlJob(opts JobOptions) (*CrawlJob, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultSearchPageSize
	}

	job := &CrawlJob{
		Mode:               opts.Mode,
		Keywords:           compactStrings(opts.Keywords, false),
		ExplicitIDs:        compactStrings(opts.ExplicitIDs, true),
		MaxItems:           opts.MaxItems,
		MaxCommentsPerItem: opts.MaxCommentsPerItem,
		CommentKeywords:    compactStrings(opts.CommentKeywords, true),
		PageSize:           pageSize,
		SearchOrder:        opts.SearchOrder,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate 验证任务参数
func (j *CrawlJob) Validate() error {
	switch j.Mode {
	case CrawlerTypeSearch:
		if len(j.Keywords) == 0 {
			return fmt.Errorf("搜索模式至少需要一个关键词")
		}
		if j.MaxItems <= 0 {
			return fmt.Errorf("搜索模式下最大爬取数量必须大于0,当前值: %d", j.MaxItems)
		}
	case CrawlerTypeDetail:
		if len(j.ExplicitIDs) == 0 {
			return fmt.Errorf("详情模式至少需要一个视频ID")
		}
	default:
		return fmt.Errorf("无效的爬取类型: %q", j.Mode)
	}

	if j.PageSize <= 0 {
		return fmt.Errorf("分页大小必须大于0")
	}
	if !j.SearchOrder.Valid() {
		return fmt.Errorf("无效的搜索排序: %q", j.SearchOrder)
	}
	return nil
}

// ShouldFetchPage 判断是否继续抓取第page页
// 第一页总是抓取; 之后当 page*page_size 超过 max_items 时停止
func (j *CrawlJob) ShouldFetchPage(page int) bool {
	if page < 1 {
		return false
	}
	if page == 1 {
		return j.MaxItems > 0
	}
	return page*j.PageSize <= j.MaxItems
}

// MaxPages 单个关键词最多抓取的页数
func (j *CrawlJob) MaxPages() int {
	n := 0
	for j.ShouldFetchPage(n + 1) {
		n++
	}
	return n
}

// compactStrings 去除空白项,可选按出现顺序去重
func compactStrings(in []string, dedup bool) []string {
	out := make([]string, 0, len(in))
	var seen map[string]struct{}
	if dedup {
		seen = make(map[string]struct{}, len(in))
	}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if dedup {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
		}
		out = append(out, s)
	}
	return out
}
