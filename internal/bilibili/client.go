package bilibili

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/proxy"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
	"github.com/gocolly/colly/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// IndexURL 站点首页
	IndexURL = "https://www.bilibili.com"
	// APIBaseURL 接口域名
	APIBaseURL = "https://api.bilibili.com"
	// DefaultUserAgent 浏览器与HTTP客户端共用的UA
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	navURI     = "/x/web-interface/nav"
	searchURI  = "/x/web-interface/wbi/search/type"
	detailURI  = "/x/web-interface/view/detail"
	commentURI = "/x/v2/reply/wbi/main"
)

// ClientConfig HTTP客户端配置
type ClientConfig struct {
	BaseURL      string
	Origin       string // Origin 与 Referer
	UserAgent    string
	Timeout      time.Duration
	RateLimit    float64 // 每秒请求数,<=0 不限速
	Headers      models.HeaderProvider
	Proxy        *models.ProxyLease
	CommentOrder models.CommentOrder
}

// Client 平台接口客户端,实现 models.FetchClient
// 底层使用colly发送请求,每次调用克隆一个collector以绑定调用方的context
type Client struct {
	config    ClientConfig
	collector *colly.Collector
	limiter   *rate.Limiter
	wbi       wbiKeyStore

	mu        sync.RWMutex
	cookieStr string

	now func() time.Time
}

// NewClient 创建客户端
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}
	if config.Origin == "" {
		config.Origin = IndexURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(config.UserAgent),
	)

	if config.Proxy != nil {
		transport, err := proxy.NewTransport(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("创建代理传输层失败: %w", err)
		}
		c.WithTransport(transport)
		utils.Infof("HTTP客户端使用代理: %s", config.Proxy)
	}
	// cookie 由会话统一注入请求头
	c.DisableCookies()
	c.SetRequestTimeout(config.Timeout)

	client := &Client{
		config:    config,
		collector: c,
		now:       time.Now,
	}
	if config.RateLimit > 0 {
		burst := int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return client, nil
}

// UpdateCookies 更新请求使用的cookie
func (c *Client) UpdateCookies(session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session == nil {
		c.cookieStr = ""
		return
	}
	c.cookieStr = session.CookieStr
}

// SetWBIKeys 设置签名key,无效key被忽略
func (c *Client) SetWBIKeys(keys WBIKeys) {
	c.wbi.set(keys)
}

// WBIKeys 当前签名key
func (c *Client) WBIKeys() WBIKeys {
	return c.wbi.get()
}

func (c *Client) cookies() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookieStr
}

// Pong 检查登录状态,同时从nav接口刷新WBI key
// 未登录时接口返回非0业务码,但仍携带 wbi_img
func (c *Client) Pong(ctx context.Context) bool {
	status, body, err := c.do(ctx, navURI, url.Values{})
	if err != nil {
		utils.Warnf("登录状态检查失败: %v", err)
		return false
	}
	if status >= http.StatusBadRequest || !gjson.ValidBytes(body) {
		utils.Warnf("登录状态检查返回异常响应: status=%d", status)
		return false
	}

	res := gjson.ParseBytes(body)
	data := res.Get("data")
	c.SetWBIKeys(WBIKeysFromURLs(data.Get("wbi_img.img_url").String(), data.Get("wbi_img.sub_url").String()))

	loggedIn := res.Get("code").Int() == 0 && data.Get("isLogin").Bool()
	utils.Debugf("登录状态: %v", loggedIn)
	return loggedIn
}

// Search 实现 models.FetchClient
func (c *Client) Search(ctx context.Context, keyword string, page, pageSize int, order models.SearchOrder) (*models.SearchResult, error) {
	params := map[string]string{
		"search_type": "video",
		"keyword":     keyword,
		"page":        strconv.Itoa(page),
		"page_size":   strconv.Itoa(pageSize),
		"order":       string(order),
	}
	data, err := c.getSigned(ctx, searchURI, params)
	if err != nil {
		return nil, err
	}

	result := &models.SearchResult{
		Keyword:  keyword,
		Page:     page,
		NumPages: int(data.Get("numPages").Int()),
	}
	// 无结果时 result 字段缺失,视为空页
	data.Get("result").ForEach(func(_, v gjson.Result) bool {
		if aid := v.Get("aid"); aid.Exists() && aid.Int() > 0 {
			result.IDs = append(result.IDs, aid.String())
		}
		return true
	})
	return result, nil
}

// FetchItemDetail 实现 models.FetchClient
func (c *Client) FetchItemDetail(ctx context.Context, itemID string) (*models.VideoItem, error) {
	data, err := c.get(ctx, detailURI, url.Values{"aid": {itemID}})
	if err != nil {
		return nil, err
	}

	view := data.Get("View")
	if !view.IsObject() || !view.Get("aid").Exists() {
		return nil, fmt.Errorf("视频 %s 详情缺少View.aid: %w", itemID, models.ErrFieldMissing)
	}

	return &models.VideoItem{
		ID:          view.Get("aid").String(),
		BVID:        view.Get("bvid").String(),
		Title:       view.Get("title").String(),
		OwnerName:   view.Get("owner.name").String(),
		OwnerID:     view.Get("owner.mid").String(),
		PublishTime: view.Get("pubdate").Int(),
		Raw:         []byte(data.Raw),
		FetchedAt:   c.now(),
	}, nil
}

// FetchAllComments 实现 models.FetchClient
// 按游标翻页直到 cursor.is_end,游标不再前进时提前结束
func (c *Client) FetchAllComments(ctx context.Context, itemID string, delay func() time.Duration) ([]models.Comment, error) {
	var (
		all  []models.Comment
		next int64
	)

	for page := 1; ; page++ {
		params := map[string]string{
			"oid":  itemID,
			"type": "1",
			"mode": strconv.Itoa(int(c.config.CommentOrder)),
			"next": strconv.FormatInt(next, 10),
		}
		data, err := c.getSigned(ctx, commentURI, params)
		if err != nil {
			return all, err
		}

		cursor := data.Get("cursor")
		if !cursor.Exists() {
			return all, fmt.Errorf("视频 %s 评论缺少cursor: %w", itemID, models.ErrFieldMissing)
		}

		data.Get("replies").ForEach(func(_, r gjson.Result) bool {
			all = append(all, parseComment(itemID, r))
			return true
		})
		utils.Debugf("视频 %s 评论第%d页, 累计%d条", itemID, page, len(all))

		if cursor.Get("is_end").Bool() {
			return all, nil
		}
		nextCursor := cursor.Get("next").Int()
		if nextCursor == next {
			utils.Warnf("视频 %s 评论游标未前进,停止翻页", itemID)
			return all, nil
		}
		next = nextCursor

		if delay != nil {
			if err := sleepContext(ctx, delay()); err != nil {
				return all, err
			}
		}
	}
}

func parseComment(itemID string, r gjson.Result) models.Comment {
	return models.Comment{
		VideoID:    itemID,
		CommentID:  r.Get("rpid").String(),
		Content:    r.Get("content.message").String(),
		UserID:     r.Get("member.mid").String(),
		UserName:   r.Get("member.uname").String(),
		LikeCount:  r.Get("like").Int(),
		CreateTime: r.Get("ctime").Int(),
		Metadata:   []byte(r.Raw),
	}
}

// getSigned 带WBI签名的GET,key缺失时不签名直接发送
func (c *Client) getSigned(ctx context.Context, uri string, params map[string]string) (gjson.Result, error) {
	keys := c.wbi.get()
	if !keys.Valid() {
		utils.Debugf("WBI key缺失,请求 %s 未签名", uri)
		values := make(url.Values, len(params))
		for k, v := range params {
			values.Set(k, v)
		}
		return c.get(ctx, uri, values)
	}
	return c.get(ctx, uri, SignParams(params, keys, c.now()))
}

// get 发送请求并解析 {code, message, data} 信封
func (c *Client) get(ctx context.Context, uri string, query url.Values) (gjson.Result, error) {
	status, body, err := c.do(ctx, uri, query)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseEnvelope(uri, status, body)
}

func parseEnvelope(uri string, status int, body []byte) (gjson.Result, error) {
	if status >= http.StatusBadRequest {
		return gjson.Result{}, &models.DataFetchError{
			URI:        uri,
			StatusCode: status,
			Message:    http.StatusText(status),
		}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &models.DataFetchError{
			URI:        uri,
			StatusCode: status,
			Message:    "响应不是有效的JSON",
		}
	}

	res := gjson.ParseBytes(body)
	if code := res.Get("code").Int(); code != 0 {
		return gjson.Result{}, &models.DataFetchError{
			URI:        uri,
			StatusCode: status,
			Code:       int(code),
			Message:    res.Get("message").String(),
		}
	}
	return res.Get("data"), nil
}

// do 发送GET请求,返回状态码和解压后的响应体
func (c *Client) do(ctx context.Context, uri string, query url.Values) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	target := c.config.BaseURL + uri
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	headers, err := c.buildHeaders()
	if err != nil {
		return 0, nil, err
	}

	collector := c.collector.Clone()
	collector.Context = ctx

	var resp *colly.Response
	collector.OnResponse(func(r *colly.Response) {
		resp = r
	})

	start := time.Now()
	if err := collector.Request(http.MethodGet, target, nil, nil, headers); err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("请求 %s 失败: %w", uri, err)
	}
	if resp == nil {
		return 0, nil, fmt.Errorf("请求 %s 未收到响应", uri)
	}

	encoding := ""
	if resp.Headers != nil {
		encoding = resp.Headers.Get("Content-Encoding")
	}
	body, err := decompressBody(encoding, resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("解压 %s 响应失败: %w", uri, err)
	}

	utils.Logger.Debug().
		Str("uri", uri).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("请求完成")
	return resp.StatusCode, body, nil
}

func (c *Client) buildHeaders() (http.Header, error) {
	headers := make(http.Header)
	if c.config.Headers != nil {
		h, err := c.config.Headers.GetHeaders()
		if err != nil {
			return nil, fmt.Errorf("获取请求头失败: %w", err)
		}
		headers = h.Clone()
	}

	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", c.config.UserAgent)
	}
	headers.Set("Origin", c.config.Origin)
	headers.Set("Referer", c.config.Origin)
	headers.Set("Content-Type", "application/json;charset=UTF-8")
	if cookie := c.cookies(); cookie != "" {
		headers.Set("Cookie", cookie)
	}
	return headers, nil
}

// sleepContext 等待指定时长,context取消时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
