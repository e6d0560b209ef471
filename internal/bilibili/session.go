package bilibili

import (
	"context"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
)

// wbiStorageKey 浏览器localStorage中缓存的WBI图片地址,格式 "<img_url>-<sub_url>"
const wbiStorageKey = "wbi_img_urls"

// cookieStore 浏览器侧的cookie与localStorage访问
type cookieStore interface {
	Cookies() (map[string]string, error)
	SetCookies(cookies map[string]string, domain string) error
	LocalStorage(ctx context.Context, key string) (string, error)
}

// credentialClient 需要同步登录凭证的HTTP客户端
type credentialClient interface {
	Pong(ctx context.Context) bool
	UpdateCookies(session *models.Session)
	SetWBIKeys(keys WBIKeys)
}

// SessionManager 实现 models.SessionProvider
// 登录在浏览器中完成,之后把浏览器cookie同步给HTTP客户端
type SessionManager struct {
	store   cookieStore
	client  credentialClient
	config  LoginConfig
	// staleSESSDATA 浏览器中已失效的SESSDATA,扫码完成前出现的同值cookie不算登录成功
	qrLogin func(ctx context.Context, staleSESSDATA string) (map[string]string, error)
}

// NewSessionManager 创建会话管理器
func NewSessionManager(browser *Browser, client *Client, config LoginConfig) *SessionManager {
	config.setDefaults()
	return &SessionManager{
		store:  browser,
		client: client,
		config: config,
		qrLogin: func(ctx context.Context, staleSESSDATA string) (map[string]string, error) {
			return loginByQRCode(ctx, browser, config, staleSESSDATA)
		},
	}
}

// Probe 实现 models.SessionProvider
func (m *SessionManager) Probe(ctx context.Context) bool {
	return m.client.Pong(ctx)
}

// Establish 实现 models.SessionProvider
// cookie登录总是写入配置的cookie; 扫码登录前先校验浏览器中已有的登录cookie
func (m *SessionManager) Establish(ctx context.Context, hint models.LoginHint) (*models.Session, error) {
	loginType := hint.Type
	if loginType == "" {
		loginType = m.config.Type
	}

	var (
		cookies map[string]string
		err     error
	)
	switch loginType {
	case models.LoginTypeQRCode:
		current, cerr := m.store.Cookies()
		if cerr == nil && hasLoginCookies(current) {
			if session := m.newSession(current); m.verify(ctx, session) {
				utils.Info("浏览器中的登录cookie仍然有效,跳过扫码")
				return session, nil
			}
			utils.Info("浏览器中的登录cookie已失效,重新扫码")
		}
		if m.qrLogin == nil {
			return nil, fmt.Errorf("%w: 未配置浏览器,无法扫码登录", models.ErrSessionEstablishment)
		}
		utils.Info("开始扫码登录")
		cookies, err = m.qrLogin(ctx, current["SESSDATA"])
	case models.LoginTypeCookie:
		raw := hint.Cookies
		if raw == "" {
			raw = m.config.Cookies
		}
		utils.Info("开始cookie登录")
		cookies, err = loginByCookies(ctx, m.store, raw)
	case models.LoginTypePhone:
		return nil, fmt.Errorf("%w: %w (phone)", models.ErrSessionEstablishment, models.ErrUnsupportedLogin)
	default:
		return nil, fmt.Errorf("%w: %w (%s)", models.ErrSessionEstablishment, models.ErrUnsupportedLogin, loginType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSessionEstablishment, err)
	}

	if cookies == nil {
		cookies = make(map[string]string)
	}
	// 以浏览器中的最终cookie为准
	if latest, err := m.store.Cookies(); err == nil && len(latest) > 0 {
		for k, v := range latest {
			cookies[k] = v
		}
	}

	session := m.newSession(cookies)
	utils.Infof("登录成功, DedeUserID=%s", session.Get("DedeUserID"))
	return session, nil
}

// verify 用给定会话请求nav接口
func (m *SessionManager) verify(ctx context.Context, session *models.Session) bool {
	m.client.UpdateCookies(session)
	return m.client.Pong(ctx)
}

func (m *SessionManager) newSession(cookies map[string]string) *models.Session {
	session := models.NewSession(cookies)
	session.LoggedIn = hasLoginCookies(cookies)
	return session
}

// RefreshClientCredentials 实现 models.SessionProvider
// WBI key优先取浏览器localStorage,取不到时由nav接口补齐
func (m *SessionManager) RefreshClientCredentials(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("会话为空")
	}
	m.client.UpdateCookies(session)
	utils.Debugf("已同步cookie到客户端: %s", utils.RedactCookieString(session.CookieStr))

	raw, err := m.store.LocalStorage(ctx, wbiStorageKey)
	if err != nil {
		utils.Debugf("读取 %s 失败: %v", wbiStorageKey, err)
	}
	if keys, ok := parseWBIStorage(raw); ok {
		m.client.SetWBIKeys(keys)
		return nil
	}

	if !m.client.Pong(ctx) {
		return fmt.Errorf("%w: 刷新凭证后登录状态检查未通过", models.ErrSessionEstablishment)
	}
	return nil
}

// parseWBIStorage 解析 "<img_url>-<sub_url>"
// 优先按 "-http" 切分,兼容地址中带 "-" 的情况
func parseWBIStorage(raw string) (WBIKeys, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WBIKeys{}, false
	}
	idx := strings.Index(raw, "-http")
	if idx < 0 {
		idx = strings.Index(raw, "-")
	}
	if idx < 0 {
		return WBIKeys{}, false
	}
	keys := WBIKeysFromURLs(raw[:idx], raw[idx+1:])
	return keys, keys.Valid()
}
