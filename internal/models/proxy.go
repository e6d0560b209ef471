package models

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ProxyLease 代理租约,一次运行获取一次,之后只读
type ProxyLease struct {
	Protocol string `json:"protocol"` // http / https / socks5
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// ParseProxyLease 解析 "protocol://user:pass@ip:port" 格式的代理
// 省略协议时默认为http
func ParseProxyLease(raw string) (*ProxyLease, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("代理地址不能为空")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("代理地址格式无效: %w", err)
	}

	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("不支持的代理协议: %s", u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("代理地址缺少端口: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("代理端口无效: %s", portStr)
	}

	lease := &ProxyLease{
		Protocol: u.Scheme,
		IP:       host,
		Port:     port,
	}
	if u.User != nil {
		lease.User = u.User.Username()
		lease.Password, _ = u.User.Password()
	}
	return lease, nil
}

// Address 返回 ip:port
func (p *ProxyLease) Address() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// BrowserServer 浏览器 --proxy-server 参数格式,不含认证信息
func (p *ProxyLease) BrowserServer() string {
	return p.Protocol + "://" + p.Address()
}

// URL HTTP客户端使用的代理地址,包含认证信息
func (p *ProxyLease) URL() *url.URL {
	u := &url.URL{Scheme: p.Protocol, Host: p.Address()}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

// HasAuth 是否需要认证
func (p *ProxyLease) HasAuth() bool {
	return p.User != ""
}

// String 日志输出用,隐藏密码
func (p *ProxyLease) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.User != "" {
		return fmt.Sprintf("%s://%s:***@%s", p.Protocol, p.User, p.Address())
	}
	return p.BrowserServer()
}
