package proxy

import (
	"context"
	"fmt"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
)

// Provider 代理来源
type Provider interface {
	// Name 来源名称,用于日志
	Name() string

	// FetchProxies 获取最多n个候选代理
	FetchProxies(ctx context.Context, n int) ([]*models.ProxyLease, error)
}

// StaticProvider 从配置的代理列表提供代理
// 每次调用按顺序轮换,列表耗尽后从头开始
type StaticProvider struct {
	leases []*models.ProxyLease
	next   int
}

// NewStaticProvider 解析 "protocol://user:pass@ip:port" 列表
// 格式错误的条目被跳过并记录警告
func NewStaticProvider(raw []string) (*StaticProvider, error) {
	p := &StaticProvider{}
	for i, s := range raw {
		lease, err := models.ParseProxyLease(s)
		if err != nil {
			utils.Warnf("跳过无效代理 (第%d项): %v", i+1, err)
			continue
		}
		p.leases = append(p.leases, lease)
	}
	if len(p.leases) == 0 {
		return nil, fmt.Errorf("代理列表为空: %w", models.ErrProxyExhausted)
	}
	return p, nil
}

// Name 实现 Provider 接口
func (p *StaticProvider) Name() string {
	return "static"
}

// FetchProxies 实现 Provider 接口
func (p *StaticProvider) FetchProxies(ctx context.Context, n int) ([]*models.ProxyLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n > len(p.leases) {
		n = len(p.leases)
	}

	result := make([]*models.ProxyLease, 0, n)
	for i := 0; i < n; i++ {
		lease := *p.leases[p.next%len(p.leases)]
		result = append(result, &lease)
		p.next++
	}
	return result, nil
}
