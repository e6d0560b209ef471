package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Login   LoginConfig   `mapstructure:"login"`
	Browser BrowserConfig `mapstructure:"browser"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Client  ClientConfig  `mapstructure:"client"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`

	// configFile 实际使用的配置文件,未找到时为空
	configFile string
}

// CrawlerConfig 爬取任务配置
type CrawlerConfig struct {
	Type               string   `mapstructure:"type"`     // search / detail
	Keywords           string   `mapstructure:"keywords"` // 逗号分隔
	IDs                []string `mapstructure:"ids"`
	IDsFile            string   `mapstructure:"ids_file"`
	MaxItems           int      `mapstructure:"max_items"`
	MaxCommentsPerItem int      `mapstructure:"max_comments_per_item"`
	CommentKeywords    []string `mapstructure:"comment_keywords"`
	MaxConcurrency     int      `mapstructure:"max_concurrency"`
	SearchOrder        string   `mapstructure:"search_order"`
	CommentOrder       int      `mapstructure:"comment_order"`
}

// LoginConfig 登录配置
type LoginConfig struct {
	Type       string `mapstructure:"type"` // qrcode / cookie / phone
	Cookies    string `mapstructure:"cookies"`
	Timeout    int    `mapstructure:"timeout"` // 秒
	QRCodePath string `mapstructure:"qrcode_path"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	SaveLoginState bool   `mapstructure:"save_login_state"`
	UserDataDir    string `mapstructure:"user_data_dir"`
	UserAgent      string `mapstructure:"user_agent"`
	BinPath        string `mapstructure:"bin_path"`
	NavTimeout     int    `mapstructure:"nav_timeout"` // 秒
}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Required     bool     `mapstructure:"required"`
	PoolCount    int      `mapstructure:"pool_count"`
	Validate     bool     `mapstructure:"validate"`
	CheckURL     string   `mapstructure:"check_url"`
	CheckTimeout int      `mapstructure:"check_timeout"` // 秒
	Proxies      []string `mapstructure:"proxies"`
}

// ClientConfig HTTP客户端配置
type ClientConfig struct {
	Timeout   int               `mapstructure:"timeout"`    // 秒
	RateLimit float64           `mapstructure:"rate_limit"` // 每秒请求数
	Headers   map[string]string `mapstructure:"headers"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Option        string `mapstructure:"option"` // db / json / redis / memory
	DataDir       string `mapstructure:"data_dir"`
	SQLiteFile    string `mapstructure:"sqlite_file"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	NoColor  bool           `mapstructure:"no_color"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	Progress bool   `mapstructure:"progress"`
}

// LoadConfig 加载配置文件
// 未指定路径且默认位置没有配置文件时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bilicrawler"))
		}
	}

	v.SetEnvPrefix("BILICRAWLER")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// 显式指定的配置文件必须存在
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置失败: %w", err)}
	}
	config.configFile = v.ConfigFileUsed()

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.type", string(models.CrawlerTypeSearch))
	v.SetDefault("crawler.keywords", "")
	v.SetDefault("crawler.max_items", 20)
	v.SetDefault("crawler.max_comments_per_item", 10)
	v.SetDefault("crawler.max_concurrency", 1)
	v.SetDefault("crawler.search_order", "")
	v.SetDefault("crawler.comment_order", int(models.CommentOrderDefault))

	v.SetDefault("login.type", string(models.LoginTypeQRCode))
	v.SetDefault("login.timeout", 120)
	v.SetDefault("login.qrcode_path", filepath.Join("output", "qrcode_bili.png"))

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.save_login_state", true)
	v.SetDefault("browser.user_data_dir", filepath.Join("browser_data", "bili_user_data_dir"))
	v.SetDefault("browser.nav_timeout", 60)

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.required", false)
	v.SetDefault("proxy.pool_count", 2)
	v.SetDefault("proxy.validate", true)
	v.SetDefault("proxy.check_url", "")
	v.SetDefault("proxy.check_timeout", 10)

	v.SetDefault("client.timeout", 60)
	v.SetDefault("client.rate_limit", 0)

	v.SetDefault("storage.option", "json")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.sqlite_file", "bilibili.db")
	v.SetDefault("storage.redis_addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis_prefix", "bilibili:")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.progress", true)
}

// ConfigFileUsed 实际加载的配置文件路径
func (c *Config) ConfigFileUsed() string {
	return c.configFile
}

// CLIOverrides 命令行覆盖项,nil 表示未指定
type CLIOverrides struct {
	Type               *string
	Keywords           *string
	IDs                []string
	IDsFile            *string
	MaxItems           *int
	MaxCommentsPerItem *int
	CommentKeywords    *string
	MaxConcurrency     *int
	SearchOrder        *string
	LoginType          *string
	Cookies            *string
	Headless           *bool
	SaveLoginState     *bool
	ProxyEnabled       *bool
	ProxyPoolCount     *int
	StorageOption      *string
	OutputDir          *string
	Progress           *bool
	LogLevel           *string
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	setString(&c.Crawler.Type, o.Type)
	setString(&c.Crawler.Keywords, o.Keywords)
	if len(o.IDs) > 0 {
		c.Crawler.IDs = append([]string(nil), o.IDs...)
	}
	setString(&c.Crawler.IDsFile, o.IDsFile)
	setInt(&c.Crawler.MaxItems, o.MaxItems)
	setInt(&c.Crawler.MaxCommentsPerItem, o.MaxCommentsPerItem)
	if o.CommentKeywords != nil {
		c.Crawler.CommentKeywords = utils.SplitList(*o.CommentKeywords)
	}
	setInt(&c.Crawler.MaxConcurrency, o.MaxConcurrency)
	setString(&c.Crawler.SearchOrder, o.SearchOrder)

	setString(&c.Login.Type, o.LoginType)
	setString(&c.Login.Cookies, o.Cookies)

	if o.Headless != nil {
		c.Browser.Headless = *o.Headless
	}
	if o.SaveLoginState != nil {
		c.Browser.SaveLoginState = *o.SaveLoginState
	}
	if o.ProxyEnabled != nil {
		c.Proxy.Enabled = *o.ProxyEnabled
	}
	setInt(&c.Proxy.PoolCount, o.ProxyPoolCount)

	setString(&c.Storage.Option, o.StorageOption)
	setString(&c.Output.BaseDir, o.OutputDir)
	if o.Progress != nil {
		c.Output.Progress = *o.Progress
	}
	setString(&c.Logging.Level, o.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// BuildJob 由配置构建只读的爬取任务
func (c *Config) BuildJob() (*models.CrawlJob, error) {
	mode, err := models.ParseCrawlerType(c.Crawler.Type)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, raw := range c.Crawler.IDs {
		for _, part := range utils.SplitList(raw) {
			id, err := models.NormalizeVideoID(part)
			if err != nil {
				return nil, fmt.Errorf("视频ID配置错误: %w", err)
			}
			ids = append(ids, id)
		}
	}
	if c.Crawler.IDsFile != "" {
		fromFile, err := utils.ReadIDsFromFile(c.Crawler.IDsFile)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}

	return models.NewCrawlJob(models.JobOptions{
		Mode:               mode,
		Keywords:           utils.SplitList(c.Crawler.Keywords),
		ExplicitIDs:        ids,
		MaxItems:           c.Crawler.MaxItems,
		MaxCommentsPerItem: c.Crawler.MaxCommentsPerItem,
		CommentKeywords:    c.Crawler.CommentKeywords,
		PageSize:           models.DefaultSearchPageSize,
		SearchOrder:        models.SearchOrder(c.Crawler.SearchOrder),
	})
}

// LoginHint 登录参数
func (c *Config) LoginHint() models.LoginHint {
	return models.LoginHint{
		Type:    models.LoginType(c.Login.Type),
		Cookies: c.Login.Cookies,
	}
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		FileName:   "bilicrawler",
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
		NoColor:    c.Logging.NoColor,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
