package utils

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
)

// ReadIDsFromFile 从文件中读取视频ID列表
// 每行一个ID,支持 "av" 前缀,跳过空行和#注释
func ReadIDsFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开ID文件失败: %w", err)
	}
	defer file.Close()

	ids := make([]string, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, err := models.NormalizeVideoID(line)
		if err != nil {
			Warnf("跳过无效视频ID (行 %d): %s - %v", lineNum, line, err)
			continue
		}

		ids = append(ids, id)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取ID文件失败: %w", err)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("ID文件中没有有效的视频ID")
	}

	Infof("从文件加载了 %d 个视频ID", len(ids))
	return ids, nil
}

// SplitList 按英文或中文逗号拆分列表,去除空白项并保持顺序
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '，'
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			result = append(result, f)
		}
	}
	return result
}

// ValidateURL 验证URL格式
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URL格式无效: %w", err)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("URL缺少协议(http/https)")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL协议必须是http或https")
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL缺少主机名")
	}

	return nil
}
