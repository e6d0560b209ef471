package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	xproxy "golang.org/x/net/proxy"
)

// DefaultCheckURL 代理健康检查地址
const DefaultCheckURL = "https://api.bilibili.com/x/web-interface/zone"

// Checker 代理健康检查器
type Checker struct {
	CheckURL string
	Timeout  time.Duration
}

// NewChecker 创建检查器
func NewChecker(checkURL string, timeout time.Duration) *Checker {
	if checkURL == "" {
		checkURL = DefaultCheckURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{CheckURL: checkURL, Timeout: timeout}
}

// Check 通过代理请求检查地址,HTTP状态码小于400视为可用
func (c *Checker) Check(ctx context.Context, lease *models.ProxyLease) error {
	transport, err := NewTransport(lease)
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport, Timeout: c.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.CheckURL, nil)
	if err != nil {
		return fmt.Errorf("创建检查请求失败: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("代理 %s 不可用: %w", lease, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("代理 %s 检查失败: HTTP %d", lease, resp.StatusCode)
	}
	return nil
}

// NewTransport 构建经由代理的 http.Transport
// http/https 代理使用 http.ProxyURL,socks5 使用 x/net/proxy 拨号器
func NewTransport(lease *models.ProxyLease) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch lease.Protocol {
	case "http", "https":
		transport.Proxy = http.ProxyURL(lease.URL())
	case "socks5":
		var auth *xproxy.Auth
		if lease.HasAuth() {
			auth = &xproxy.Auth{User: lease.User, Password: lease.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", lease.Address(), auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("创建SOCKS5拨号器失败: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("不支持的代理协议: %s", lease.Protocol)
	}

	return transport, nil
}
