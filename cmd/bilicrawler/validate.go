package main

import (
	"fmt"

	"github.com/RecoveryAshes/bilicrawler/internal/core"
	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/store"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
)

// ValidateFlags 验证合并后的运行参数
func ValidateFlags(config *core.Config) error {
	if _, err := models.ParseCrawlerType(config.Crawler.Type); err != nil {
		return err
	}

	if n := config.Crawler.MaxConcurrency; n < 1 || n > 100 {
		return fmt.Errorf("并发数必须在1-100之间,当前值: %d", n)
	}

	switch models.LoginType(config.Login.Type) {
	case models.LoginTypeQRCode:
	case models.LoginTypeCookie:
		if config.Login.Cookies == "" {
			return fmt.Errorf("cookie登录需要通过 --cookies 或配置文件提供cookie")
		}
	default:
		return fmt.Errorf("无效的登录方式: %s (有效值: qrcode, cookie)", config.Login.Type)
	}

	switch store.Option(config.Storage.Option) {
	case store.OptionDB, store.OptionJSON, store.OptionRedis, store.OptionMemory:
	default:
		return fmt.Errorf("无效的存储方式: %s (有效值: json, db, redis, memory)", config.Storage.Option)
	}

	if config.Client.RateLimit < 0 {
		return fmt.Errorf("请求速率不能为负数,当前值: %.2f", config.Client.RateLimit)
	}
	return nil
}

// runValidateConfig 校验配置文件并输出生效的任务与请求头
func runValidateConfig(config *core.Config, cliHeaders []string) error {
	utils.Info("🔍 验证配置...")

	if err := ValidateFlags(config); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	job, err := config.BuildJob()
	if err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	headerManager, err := core.NewHeaderManager(config.Client.Headers, cliHeaders)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	utils.Info("✅ 配置验证通过!")
	if used := config.ConfigFileUsed(); used != "" {
		utils.Infof("配置文件: %s", used)
	}
	utils.Infof("爬取类型: %s, 关键词 %d 个, 视频ID %d 个", job.Mode, len(job.Keywords), len(job.ExplicitIDs))

	safeHeaders := headerManager.GetSafeHeaders()
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for name, value := range safeHeaders {
		utils.Infof("  %s: %s", name, value)
	}
	return nil
}
