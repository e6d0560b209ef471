package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/bilicrawler/internal/core"
	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string
	validateConfig bool

	// 爬取参数
	crawlerType     string
	keywords        string
	ids             []string
	idsFile         string
	maxItems        int
	maxComments     int
	commentKeywords string
	concurrency     int
	searchOrder     string

	// 登录与浏览器
	loginType      string
	cookies        string
	headless       bool
	saveLoginState bool

	// 代理、存储与输出
	useProxy   bool
	proxyCount int
	storage    string
	outputDir  string
	noProgress bool
)

// appConfig 由 PersistentPreRunE 加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "bilicrawler",
	Short: "B站视频与评论爬取工具",
	Long: `bilicrawler - B站关键词搜索与视频评论爬取工具

支持:
  • 关键词搜索 (search) 与指定视频 (detail) 两种模式
  • 扫码 / cookie 登录,可保存登录态
  • 并发抓取详情和评论,评论关键词过滤与数量限制
  • JSON / SQLite / Redis 存储

示例:
  # 关键词搜索,每个关键词最多20个视频
  bilicrawler -t search -k "编程副业,编程兼职" --max-items 20

  # 指定视频,cookie登录,存入SQLite
  bilicrawler -t detail --ids 170001,av170002 --login-type cookie --cookies "SESSDATA=...; DedeUserID=..." -s db

  # 验证配置文件
  bilicrawler --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		config.MergeCLIFlags(collectOverrides(cmd))
		appConfig = config

		if err := utils.InitLogger(config.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}
		if used := config.ConfigFileUsed(); used != "" {
			utils.Debugf("使用配置文件: %s", used)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateConfig {
			return runValidateConfig(appConfig, headers)
		}

		if err := ValidateFlags(appConfig); err != nil {
			return err
		}

		// Ctrl+C 取消context,正在进行的任务尽快结束
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		crawler, err := core.NewCrawler(appConfig, headers)
		if err != nil {
			return fmt.Errorf("创建爬取器失败: %w", err)
		}

		_, err = crawler.Crawl(ctx)
		if ctx.Err() != nil {
			utils.Warn("收到中断信号,已停止派发新任务")
		}
		if err != nil {
			if errors.Is(err, models.ErrSessionEstablishment) {
				return fmt.Errorf("登录失败,爬取终止: %w", err)
			}
			return fmt.Errorf("爬取失败: %w", err)
		}

		utils.Info("✨ 爬取任务完成!")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	// 不需要加载配置
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bilicrawler %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// collectOverrides 只收集用户显式指定的参数
func collectOverrides(cmd *cobra.Command) core.CLIOverrides {
	flags := cmd.Flags()
	var o core.CLIOverrides

	str := func(name string, v *string) *string {
		if flags.Changed(name) {
			return v
		}
		return nil
	}
	num := func(name string, v *int) *int {
		if flags.Changed(name) {
			return v
		}
		return nil
	}
	boolean := func(name string, v *bool) *bool {
		if flags.Changed(name) {
			return v
		}
		return nil
	}

	o.Type = str("type", &crawlerType)
	o.Keywords = str("keywords", &keywords)
	if flags.Changed("ids") {
		o.IDs = ids
	}
	o.IDsFile = str("ids-file", &idsFile)
	o.MaxItems = num("max-items", &maxItems)
	o.MaxCommentsPerItem = num("max-comments", &maxComments)
	o.CommentKeywords = str("comment-keywords", &commentKeywords)
	o.MaxConcurrency = num("concurrency", &concurrency)
	o.SearchOrder = str("order", &searchOrder)
	o.LoginType = str("login-type", &loginType)
	o.Cookies = str("cookies", &cookies)
	o.Headless = boolean("headless", &headless)
	o.SaveLoginState = boolean("save-login-state", &saveLoginState)
	o.ProxyEnabled = boolean("proxy", &useProxy)
	o.ProxyPoolCount = num("proxy-count", &proxyCount)
	o.StorageOption = str("storage", &storage)
	o.OutputDir = str("output", &outputDir)
	o.LogLevel = str("log-level", &logLevel)

	if flags.Changed("no-progress") {
		progress := !noProgress
		o.Progress = &progress
	}
	return o
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 爬取参数
	rootCmd.Flags().StringVarP(&crawlerType, "type", "t", "search", "爬取类型 (search|detail)")
	rootCmd.Flags().StringVarP(&keywords, "keywords", "k", "", "搜索关键词,逗号分隔")
	rootCmd.Flags().StringSliceVar(&ids, "ids", nil, "视频aid列表,逗号分隔")
	rootCmd.Flags().StringVarP(&idsFile, "ids-file", "f", "", "包含视频aid列表的文件路径")
	rootCmd.Flags().IntVar(&maxItems, "max-items", 20, "每个关键词最多爬取的视频数")
	rootCmd.Flags().IntVar(&maxComments, "max-comments", 10, "每个视频最多保存的评论数 (<=0 不限制)")
	rootCmd.Flags().StringVar(&commentKeywords, "comment-keywords", "", "评论关键词过滤,逗号分隔")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "n", 1, "最大并发任务数")
	rootCmd.Flags().StringVar(&searchOrder, "order", "", "搜索排序 (空|click|pubdate|dm|stow)")

	// 登录与浏览器
	rootCmd.Flags().StringVar(&loginType, "login-type", "qrcode", "登录方式 (qrcode|cookie)")
	rootCmd.Flags().StringVar(&cookies, "cookies", "", "cookie登录使用的cookie字符串")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "无头浏览器模式")
	rootCmd.Flags().BoolVar(&saveLoginState, "save-login-state", true, "保存浏览器登录态")

	// 代理、存储与输出
	rootCmd.Flags().BoolVar(&useProxy, "proxy", false, "启用代理")
	rootCmd.Flags().IntVar(&proxyCount, "proxy-count", 2, "代理池数量")
	rootCmd.Flags().StringVarP(&storage, "storage", "s", "json", "存储方式 (json|db|redis|memory)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "输出目录")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
