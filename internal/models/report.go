package models

import (
	"encoding/json"
	"time"
)

// RunResult 一次运行的统计摘要
// 单个条目的跳过只体现在日志和计数中
type RunResult struct {
	RunID string      `json:"run_id"`
	Mode  CrawlerType `json:"mode"`

	PagesFetched   int `json:"pages_fetched"`   // 成功的搜索页数
	SearchFailures int `json:"search_failures"` // 失败的搜索页数

	ItemsDispatched int `json:"items_dispatched"` // 派发的详情任务数
	ItemsPersisted  int `json:"items_persisted"`  // 成功入库的视频数
	ItemsSkipped    int `json:"items_skipped"`    // 获取失败被跳过的视频数
	ItemsDuplicate  int `json:"items_duplicate"`  // 因重复被忽略的视频ID数

	CommentBatches       int `json:"comment_batches"`        // 成功的评论任务数
	CommentBatchesFailed int `json:"comment_batches_failed"` // 失败的评论任务数
	CommentsFetched      int `json:"comments_fetched"`       // 过滤前的评论数
	CommentsPersisted    int `json:"comments_persisted"`     // 过滤截断后入库的评论数

	SinkFailures  int `json:"sink_failures"`  // 持久化失败次数
	UnknownErrors int `json:"unknown_errors"` // 无法归类的错误数

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒
}

// ResourceSnapshot 运行结束时的主机资源快照
type ResourceSnapshot struct {
	TotalMemory     uint64  `json:"total_memory"`
	AvailableMemory uint64  `json:"available_memory"`
	MemoryPercent   float64 `json:"memory_percent"`
	CPUPercent      float64 `json:"cpu_percent"`
	HeapAlloc       uint64  `json:"heap_alloc"`
	Goroutines      int     `json:"goroutines"`
}

// RunReport 写入磁盘的运行报告
type RunReport struct {
	Result    RunResult         `json:"result"`
	Job       CrawlJob          `json:"job"`
	Storage   string            `json:"storage"`
	Proxy     string            `json:"proxy,omitempty"`
	Resources *ResourceSnapshot `json:"resources,omitempty"`
}

// ToJSON 转换为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
