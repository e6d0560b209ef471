package models

import (
	"sort"
	"strings"
)

// LoginType 登录方式
type LoginType string

const (
	LoginTypeQRCode LoginType = "qrcode"
	LoginTypeCookie LoginType = "cookie"
	LoginTypePhone  LoginType = "phone"
)

// Session 登录会话
// 单次运行只有一个实例,仅在SESSION_READY阶段被修改
type Session struct {
	Cookies   map[string]string
	CookieStr string
	LoggedIn  bool
}

// NewSession 由cookie键值对构建会话,CookieStr按名称排序生成
func NewSession(cookies map[string]string) *Session {
	s := &Session{Cookies: make(map[string]string, len(cookies))}
	for k, v := range cookies {
		s.Cookies[k] = v
	}
	s.CookieStr = FormatCookies(s.Cookies)
	return s
}

// Get 读取指定cookie
func (s *Session) Get(name string) string {
	if s == nil {
		return ""
	}
	return s.Cookies[name]
}

// FormatCookies 将cookie转换为请求头格式 "a=1; b=2"
func FormatCookies(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}

// ParseCookieString 解析 "a=1; b=2" 格式的cookie字符串
// 无效片段会被忽略
func ParseCookieString(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		result[name] = strings.TrimSpace(value)
	}
	return result
}
