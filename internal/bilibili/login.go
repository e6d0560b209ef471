package bilibili

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
	"github.com/go-rod/rod/lib/proto"
)

const (
	loginButtonXPath = "//div[@class='right-entry__outside go-login-btn']//div"
	qrcodeImageXPath = "//div[@class='login-scan-box']//img"

	// CookieDomain 登录cookie写入的域
	CookieDomain = ".bilibili.com"
)

// LoginConfig 登录配置
type LoginConfig struct {
	Type         models.LoginType
	Cookies      string        // cookie登录时使用
	QRCodePath   string        // 二维码截图保存路径
	Timeout      time.Duration // 等待扫码的最长时间
	PollInterval time.Duration
}

func (c *LoginConfig) setDefaults() {
	if c.Type == "" {
		c.Type = models.LoginTypeQRCode
	}
	if c.QRCodePath == "" {
		c.QRCodePath = filepath.Join("output", "qrcode_bili.png")
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// hasLoginCookies 登录成功的标志cookie
func hasLoginCookies(cookies map[string]string) bool {
	return cookies["SESSDATA"] != "" && cookies["DedeUserID"] != ""
}

// waitForLogin 轮询浏览器cookie,直到出现新的登录cookie或超时
// stale 非空时,SESSDATA 仍等于 stale 的cookie视为未登录
func waitForLogin(ctx context.Context, store cookieStore, stale string, timeout, interval time.Duration) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cookies, err := store.Cookies()
		if err != nil {
			utils.Debugf("读取cookie失败: %v", err)
		} else if hasLoginCookies(cookies) && (stale == "" || cookies["SESSDATA"] != stale) {
			return cookies, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待登录超时(%s): %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// loginByCookies 将配置的cookie写入浏览器
func loginByCookies(ctx context.Context, store cookieStore, raw string) (map[string]string, error) {
	cookies := models.ParseCookieString(raw)
	if cookies["SESSDATA"] == "" {
		return nil, fmt.Errorf("登录cookie中缺少SESSDATA")
	}
	if err := store.SetCookies(cookies, CookieDomain); err != nil {
		return nil, err
	}
	utils.Infof("已写入登录cookie: %s", utils.RedactCookieString(models.FormatCookies(cookies)))
	return cookies, nil
}

// loginByQRCode 点击登录入口,保存二维码并等待扫码
func loginByQRCode(ctx context.Context, b *Browser, config LoginConfig, staleSESSDATA string) (map[string]string, error) {
	page := b.Page().Context(ctx)

	btn, err := page.Timeout(15 * time.Second).ElementX(loginButtonXPath)
	if err != nil {
		return nil, fmt.Errorf("未找到登录入口: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("点击登录入口失败: %w", err)
	}

	img, err := page.Timeout(15 * time.Second).ElementX(qrcodeImageXPath)
	if err != nil {
		return nil, fmt.Errorf("未找到登录二维码: %w", err)
	}
	data, err := img.Resource()
	if err != nil {
		utils.Debugf("读取二维码资源失败,改用截图: %v", err)
		data, err = img.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil, fmt.Errorf("获取二维码失败: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.QRCodePath), 0755); err != nil {
		return nil, fmt.Errorf("创建二维码目录失败: %w", err)
	}
	if err := os.WriteFile(config.QRCodePath, data, 0644); err != nil {
		return nil, fmt.Errorf("保存二维码失败: %w", err)
	}
	utils.Infof("请使用哔哩哔哩App扫描二维码登录: %s (%s内有效)", config.QRCodePath, config.Timeout)

	cookies, err := waitForLogin(ctx, b, staleSESSDATA, config.Timeout, config.PollInterval)
	if err != nil {
		return nil, err
	}

	// 刷新首页让站点下发完整cookie
	if err := b.Reload(ctx); err != nil {
		utils.Warnf("登录后刷新首页失败: %v", err)
	}
	return cookies, nil
}
