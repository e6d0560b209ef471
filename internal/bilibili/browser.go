package bilibili

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var (
	// ErrBrowserLaunch 浏览器启动失败
	ErrBrowserLaunch = errors.New("浏览器启动失败")
)

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless       bool
	SaveLoginState bool   // 使用持久化用户目录保存登录态
	UserDataDir    string // 持久化目录,如 browser_data/bili_user_data_dir
	UserAgent      string
	IndexURL       string
	BinPath        string // 为空时由launcher自动查找或下载
	Proxy          *models.ProxyLease
	MaxRetries     int
	NavTimeout     time.Duration
}

// Browser 浏览器会话,持有首页标签页
type Browser struct {
	config   BrowserConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// LaunchBrowser 启动浏览器并打开首页
// 启动失败时按 MaxRetries 重试
func LaunchBrowser(ctx context.Context, config BrowserConfig) (*Browser, error) {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.NavTimeout <= 0 {
		config.NavTimeout = 60 * time.Second
	}
	if config.IndexURL == "" {
		config.IndexURL = IndexURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		b := &Browser{config: config}
		if err := b.launch(ctx); err != nil {
			lastErr = err
			b.Close()
			utils.Warnf("浏览器启动失败(重试%d/%d): %v", attempt, config.MaxRetries, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrBrowserLaunch, lastErr)
}

// launch 启动浏览器进程、连接、创建隐身标签页并打开首页
// rod 的 Must 系列方法可能panic,这里统一转换为错误
func (b *Browser) launch(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("浏览器操作panic: %v", r)
		}
	}()

	l := launcher.New().
		Context(ctx).
		Headless(b.config.Headless).
		Set("ignore-certificate-errors")

	if b.config.BinPath != "" {
		l = l.Bin(b.config.BinPath)
	}

	if b.config.SaveLoginState && b.config.UserDataDir != "" {
		if err := os.MkdirAll(b.config.UserDataDir, 0755); err != nil {
			return fmt.Errorf("创建用户目录失败: %w", err)
		}
		l = l.UserDataDir(b.config.UserDataDir)
		utils.Debugf("使用持久化浏览器目录: %s", b.config.UserDataDir)
	}

	if b.config.Proxy != nil {
		l = l.Proxy(b.config.Proxy.BrowserServer())
		utils.Infof("浏览器使用代理: %s", b.config.Proxy)
	}
	b.launcher = l

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	b.browser = rod.New().ControlURL(controlURL).Context(ctx).NoDefaultDevice()
	if err := b.browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	if b.config.Proxy != nil && b.config.Proxy.HasAuth() {
		wait := b.browser.HandleAuth(b.config.Proxy.User, b.config.Proxy.Password)
		go func() {
			if err := wait(); err != nil {
				utils.Debugf("代理认证处理结束: %v", err)
			}
		}()
	}

	page, err := stealth.Page(b.browser)
	if err != nil {
		return fmt.Errorf("创建隐身标签页失败: %w", err)
	}
	b.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("设置视口失败: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.config.UserAgent}); err != nil {
		return fmt.Errorf("设置User-Agent失败: %w", err)
	}

	nav := page.Context(ctx).Timeout(b.config.NavTimeout)
	if err := nav.Navigate(b.config.IndexURL); err != nil {
		return fmt.Errorf("打开首页失败: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		return fmt.Errorf("等待首页加载失败: %w", err)
	}

	utils.Infof("浏览器已就绪: %s", b.config.IndexURL)
	return nil
}

// Page 首页标签页
func (b *Browser) Page() *rod.Page {
	return b.page
}

// Cookies 读取浏览器当前全部cookie
func (b *Browser) Cookies() (map[string]string, error) {
	cookies, err := b.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("读取浏览器cookie失败: %w", err)
	}
	result := make(map[string]string, len(cookies))
	for _, c := range cookies {
		result[c.Name] = c.Value
	}
	return result, nil
}

// SetCookies 向指定域写入cookie
func (b *Browser) SetCookies(cookies map[string]string, domain string) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for name, value := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:   name,
			Value:  value,
			Domain: domain,
			Path:   "/",
		})
	}
	if err := b.browser.SetCookies(params); err != nil {
		return fmt.Errorf("写入浏览器cookie失败: %w", err)
	}
	return nil
}

// LocalStorage 读取首页的 localStorage 项,不存在时返回空字符串
func (b *Browser) LocalStorage(ctx context.Context, key string) (string, error) {
	obj, err := b.page.Context(ctx).Eval(`(k) => localStorage.getItem(k) || ""`, key)
	if err != nil {
		return "", fmt.Errorf("读取localStorage失败: %w", err)
	}
	return obj.Value.Str(), nil
}

// Reload 刷新首页,登录后用于让页面生成新的cookie
func (b *Browser) Reload(ctx context.Context) error {
	p := b.page.Context(ctx).Timeout(b.config.NavTimeout)
	if err := p.Reload(); err != nil {
		return err
	}
	return p.WaitLoad()
}

// Close 关闭浏览器并清理launcher
func (b *Browser) Close() {
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			utils.Debugf("关闭浏览器失败: %v", err)
		}
	}
	if b.launcher != nil {
		b.launcher.Kill()
		if !b.config.SaveLoginState {
			b.launcher.Cleanup()
		}
	}
	utils.Debugf("浏览器已关闭")
}
