package utils

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"golang.org/x/net/http/httpguts"
)

// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

// managedHeader 由程序自身设置、不允许用户配置的头部
type managedHeader struct {
	owner      string
	suggestion string
}

// managedHeaders key 为小写头部名
var managedHeaders = map[string]managedHeader{
	"host":              {owner: "HTTP客户端"},
	"content-length":    {owner: "HTTP客户端"},
	"transfer-encoding": {owner: "HTTP客户端"},
	"connection":        {owner: "HTTP客户端"},
	"cookie": {
		owner:      "登录会话",
		suggestion: "通过 login.cookies 配置或 --cookies 参数传入cookie",
	},
	"origin": {
		owner:      "B站接口客户端",
		suggestion: "接口请求固定使用 https://www.bilibili.com 作为 Origin,移除该配置",
	},
	"referer": {
		owner:      "B站接口客户端",
		suggestion: "接口请求固定使用 https://www.bilibili.com 作为 Referer,移除该配置",
	},
	"content-type": {owner: "B站接口客户端"},
}

// ForbiddenHeaders 返回不允许自定义的头部名称(规范化格式,已排序)
func ForbiddenHeaders() []string {
	names := make([]string, 0, len(managedHeaders))
	for name := range managedHeaders {
		names = append(names, http.CanonicalHeaderKey(name))
	}
	sort.Strings(names)
	return names
}

// HeaderValidator 校验用户配置的请求头
// 名称只允许字母、数字和连字符; 值不能含控制字符
type HeaderValidator struct {
	maxValueLength int
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	return &HeaderValidator{maxValueLength: MaxHeaderValueLength}
}

// ValidateName 验证头部名称
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{Field: "name", HeaderName: name, Reason: "头部名称不能为空"}
	}

	// 下划线虽是合法token,但会被部分代理和CDN丢弃
	if !httpguts.ValidHeaderFieldName(name) || strings.ContainsFunc(name, notNameRune) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "使用字母、数字和连字符 (如 'User-Agent', 'X-Custom-Header')",
		}
	}
	return nil
}

func notNameRune(r rune) bool {
	return !(r == '-' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
}

// ValidateValue 验证头部值
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}

	if !httpguts.ValidHeaderFieldValue(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含控制字符",
			Suggestion: "移除换行、NUL等控制字符",
		}
	}
	return nil
}

// ValidateHeader 验证头部名称+值
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if rule, ok := managedHeaders[strings.ToLower(name)]; ok {
		suggestion := rule.suggestion
		if suggestion == "" {
			suggestion = fmt.Sprintf("移除 '%s' 头部配置", name)
		}
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     fmt.Sprintf("此头部由%s自动设置,不允许自定义", rule.owner),
			Suggestion: suggestion,
		}
	}

	if err := hv.ValidateName(name); err != nil {
		return err
	}
	return hv.ValidateValue(name, value)
}

// IsForbidden 检查头部是否被禁止
func (hv *HeaderValidator) IsForbidden(name string) bool {
	_, ok := managedHeaders[strings.ToLower(name)]
	return ok
}

// Validate 按名称顺序验证全部头部,返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
