package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// ReportsDir 报告目录
func (r *Reporter) ReportsDir() string {
	return filepath.Join(r.outputDir, "reports")
}

// GenerateReport 生成运行报告
// 同时写入 run_<id>.json 和 latest.json,返回前者路径
func (r *Reporter) GenerateReport(report *models.RunReport) (string, error) {
	reportsDir := r.ReportsDir()
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	name := fmt.Sprintf("run_%s.json", report.Result.RunID)
	if err := r.saveJSONReport(reportsDir, name, report); err != nil {
		return "", err
	}
	if err := r.saveJSONReport(reportsDir, "latest.json", report); err != nil {
		return "", err
	}

	path := filepath.Join(reportsDir, name)
	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// PrintSummary 输出运行统计
func PrintSummary(w io.Writer, result *models.RunResult) {
	fmt.Fprintln(w, "\n==================================================")
	fmt.Fprintln(w, "📊 爬取统计")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "🆔 运行ID: %s (%s)\n", result.RunID, result.Mode)
	if result.Mode == models.CrawlerTypeSearch {
		fmt.Fprintf(w, "✅ 搜索页数: %d\n", result.PagesFetched)
		fmt.Fprintf(w, "❌ 搜索失败: %d\n", result.SearchFailures)
	}
	fmt.Fprintf(w, "✅ 入库视频: %d\n", result.ItemsPersisted)
	fmt.Fprintf(w, "⏭️  跳过视频: %d\n", result.ItemsSkipped)
	fmt.Fprintf(w, "♻️  重复视频: %d\n", result.ItemsDuplicate)
	fmt.Fprintf(w, "💬 评论任务: 成功 %d, 失败 %d\n", result.CommentBatches, result.CommentBatchesFailed)
	fmt.Fprintf(w, "💬 入库评论: %d / 获取 %d\n", result.CommentsPersisted, result.CommentsFetched)
	if result.SinkFailures > 0 {
		fmt.Fprintf(w, "❌ 存储失败: %d\n", result.SinkFailures)
	}
	if result.UnknownErrors > 0 {
		fmt.Fprintf(w, "⚠️  未知错误: %d\n", result.UnknownErrors)
	}
	fmt.Fprintf(w, "⏱️  总耗时: %.2f秒\n", result.Duration)
	fmt.Fprintln(w, "==================================================")
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
