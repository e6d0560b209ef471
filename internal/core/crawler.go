package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/bilibili"
	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/proxy"
	"github.com/RecoveryAshes/bilicrawler/internal/store"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
)

// Crawler 主爬取器
// 负责启动阶段的资源准备: 代理、浏览器、客户端、存储和会话,之后交给编排器执行
type Crawler struct {
	config  *Config
	headers *HeaderManager
	monitor *ResourceMonitor
}

// NewCrawler 创建主爬取器
func NewCrawler(config *Config, cliHeaders []string) (*Crawler, error) {
	headers, err := NewHeaderManager(config.Client.Headers, cliHeaders)
	if err != nil {
		return nil, err
	}
	return &Crawler{
		config:  config,
		headers: headers,
		monitor: NewResourceMonitor(ResourceMonitorConfig{}),
	}, nil
}

// Crawl 执行爬取任务
// 执行流程:
//  1. 构建任务并校验请求头
//  2. 获取代理租约 (可选)
//  3. 启动浏览器,创建接口客户端与存储
//  4. 交给编排器完成会话准备和抓取
//  5. 生成运行报告
func (c *Crawler) Crawl(ctx context.Context) (*models.RunResult, error) {
	job, err := c.config.BuildJob()
	if err != nil {
		return nil, err
	}
	if _, err := c.headers.GetHeaders(); err != nil {
		return nil, err
	}

	c.monitor.Start(ctx, 5*time.Second)
	defer c.monitor.Stop()

	concurrency := c.config.Crawler.MaxConcurrency
	if suggested := c.monitor.SuggestConcurrency(concurrency); suggested < concurrency {
		utils.Warnf("当前主机资源建议并发数为 %d (配置为 %d)", suggested, concurrency)
	}

	lease, err := c.acquireProxy(ctx)
	if err != nil {
		return nil, err
	}

	browser, err := bilibili.LaunchBrowser(ctx, bilibili.BrowserConfig{
		Headless:       c.config.Browser.Headless,
		SaveLoginState: c.config.Browser.SaveLoginState,
		UserDataDir:    c.config.Browser.UserDataDir,
		UserAgent:      c.config.Browser.UserAgent,
		BinPath:        c.config.Browser.BinPath,
		Proxy:          lease,
		NavTimeout:     seconds(c.config.Browser.NavTimeout),
	})
	if err != nil {
		return nil, err
	}
	defer browser.Close()

	client, err := bilibili.NewClient(bilibili.ClientConfig{
		UserAgent:    c.config.Browser.UserAgent,
		Timeout:      seconds(c.config.Client.Timeout),
		RateLimit:    c.config.Client.RateLimit,
		Headers:      c.headers,
		Proxy:        lease,
		CommentOrder: models.CommentOrder(c.config.Crawler.CommentOrder),
	})
	if err != nil {
		return nil, err
	}
	if cookies, err := browser.Cookies(); err == nil {
		client.UpdateCookies(models.NewSession(cookies))
	} else {
		utils.Warnf("读取浏览器cookie失败: %v", err)
	}

	sink, err := store.New(ctx, c.storeConfig(), job.Mode)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			utils.Warnf("关闭存储失败: %v", err)
		}
	}()

	sessions := bilibili.NewSessionManager(browser, client, bilibili.LoginConfig{
		Type:       models.LoginType(c.config.Login.Type),
		Cookies:    c.config.Login.Cookies,
		QRCodePath: c.config.Login.QRCodePath,
		Timeout:    seconds(c.config.Login.Timeout),
	})

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Job:            job,
		Client:         client,
		Session:        sessions,
		Sink:           sink,
		MaxConcurrency: concurrency,
		LoginHint:      c.config.LoginHint(),
		ShowProgress:   c.config.Output.Progress,
	})
	if err != nil {
		return nil, err
	}

	result, runErr := orchestrator.Run(ctx)
	if result != nil {
		c.report(job, lease, result)
	}
	return result, runErr
}

// acquireProxy 按配置获取代理租约
// 代理为必需时获取失败直接终止,否则降级为直连
func (c *Crawler) acquireProxy(ctx context.Context) (*models.ProxyLease, error) {
	pc := c.config.Proxy
	if !pc.Enabled {
		return nil, nil
	}

	lease, err := func() (*models.ProxyLease, error) {
		provider, err := proxy.NewStaticProvider(pc.Proxies)
		if err != nil {
			return nil, err
		}
		pool := proxy.NewPool(
			proxy.PoolConfig{Count: pc.PoolCount, Validate: pc.Validate},
			provider,
			proxy.NewChecker(pc.CheckURL, seconds(pc.CheckTimeout)),
		)
		return pool.AcquireLease(ctx)
	}()
	if err != nil {
		if pc.Required {
			return nil, fmt.Errorf("获取代理失败: %w", err)
		}
		utils.Warnf("获取代理失败,使用直连: %v", err)
		return nil, nil
	}

	utils.Infof("使用代理: %s", lease)
	return lease, nil
}

func (c *Crawler) storeConfig() store.Config {
	sc := c.config.Storage
	return store.Config{
		Option:        store.Option(sc.Option),
		DataDir:       sc.DataDir,
		SQLiteFile:    sc.SQLiteFile,
		RedisAddr:     sc.RedisAddr,
		RedisPassword: sc.RedisPassword,
		RedisDB:       sc.RedisDB,
		RedisPrefix:   sc.RedisPrefix,
	}
}

// report 写入运行报告并输出统计
func (c *Crawler) report(job *models.CrawlJob, lease *models.ProxyLease, result *models.RunResult) {
	report := &models.RunReport{
		Result:    *result,
		Job:       *job,
		Storage:   c.config.Storage.Option,
		Resources: c.monitor.Snapshot(),
	}
	if lease != nil {
		report.Proxy = lease.String()
	}

	if _, err := utils.NewReporter(c.config.Output.BaseDir).GenerateReport(report); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	}
	utils.PrintSummary(os.Stdout, result)
}
