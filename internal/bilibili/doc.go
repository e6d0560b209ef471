// Package bilibili 提供B站接口客户端、浏览器会话与登录流程
//
// # 概述
//
// 浏览器(go-rod)只用于登录和读取cookie/localStorage,
// 数据接口请求全部通过 Client(Colly)发送,两者通过 SessionManager 同步凭证。
//
// # 核心组件
//
// ## Client
//
// 实现 models.FetchClient。搜索和评论接口需要WBI签名,
// 签名密钥在 Pong 时从 nav 接口读取,或由 SessionManager 从localStorage同步。
// 非成功响应统一返回 *models.DataFetchError,缺少字段返回 models.ErrFieldMissing。
//
//	client, err := NewClient(ClientConfig{RateLimit: 2, Headers: headerManager})
//	result, err := client.Search(ctx, "编程副业", 1, 20, models.OrderDefault)
//
// ## Browser
//
// 启动带stealth脚本的Chromium并打开首页,可选持久化用户目录保存登录态。
//
//	browser, err := LaunchBrowser(ctx, BrowserConfig{Headless: true})
//	defer browser.Close()
//
// ## SessionManager
//
// 实现 models.SessionProvider:
//   - Probe 调用 nav 接口判断是否已登录
//   - Establish 按登录方式执行扫码或cookie登录
//   - RefreshClientCredentials 把cookie和WBI密钥同步到 Client
//
// 登录失败的错误都包装了 models.ErrSessionEstablishment。
package bilibili
