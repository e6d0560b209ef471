package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/bilicrawler/internal/bilibili"
	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
)

// HeaderManager 管理API请求头部
// 实现 HeaderProvider 接口
type HeaderManager struct {
	// defaults 系统默认头部
	defaults http.Header

	// config 配置文件 client.headers 中的头部
	config http.Header

	// cli 命令行 -H 传入的头部
	cli http.Header

	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor

	once     sync.Once
	merged   http.Header
	mergeErr error
}

// NewHeaderManager 创建头部管理器
// 命令行头部格式错误时直接返回错误
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:  getDefaultHeaders(),
		config:    make(http.Header),
		cli:       make(http.Header),
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
	}

	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{bilibili.DefaultUserAgent},
		"Accept":          []string{"application/json, text/plain, */*"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
		"Accept-Language": []string{"zh-CN,zh;q=0.9,en;q=0.8"},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 配置 → 命令行
func (hm *HeaderManager) Validate() error {
	if err := hm.validator.Validate(hm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}
	if err := hm.validator.Validate(hm.config); err != nil {
		utils.Errorf("配置文件头部验证失败: %v", err)
		return err
	}
	if err := hm.validator.Validate(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}

	utils.Debugf("所有HTTP头部验证通过")
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = append([]string(nil), values...)
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
// 只在第一次调用时验证,之后返回合并结果的副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	hm.once.Do(func() {
		if err := hm.Validate(); err != nil {
			hm.mergeErr = err
			return
		}
		hm.merged = hm.GetMergedHeaders()
		if len(hm.config)+len(hm.cli) > 0 {
			utils.Debugf("自定义请求头: %v", hm.GetSafeHeaders())
		}
	})
	if hm.mergeErr != nil {
		return nil, hm.mergeErr
	}
	return hm.merged.Clone(), nil
}
