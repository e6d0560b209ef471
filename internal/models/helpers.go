package models

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeVideoID 规范化视频ID
// 接受 "170001" 或 "av170001",返回纯数字aid
func NormalizeVideoID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if len(id) > 2 && strings.EqualFold(id[:2], "av") {
		id = id[2:]
	}
	if id == "" {
		return "", fmt.Errorf("视频ID不能为空")
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return "", fmt.Errorf("无效的视频ID: %s", raw)
	}
	return strconv.FormatUint(n, 10), nil
}
