package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// 任务阶段,写入日志的 phase 字段
const (
	phaseSearch  = "search"
	phaseDetail  = "detail"
	phaseComment = "comment"
)

// OrchestratorOptions 编排器依赖
type OrchestratorOptions struct {
	Job            *models.CrawlJob
	Client         models.FetchClient
	Session        models.SessionProvider
	Sink           models.Sink
	MaxConcurrency int
	LoginHint      models.LoginHint

	// CommentDelay 评论翻页间隔,默认 [0,1s) 均匀随机
	CommentDelay func() time.Duration

	ShowProgress bool
}

// Orchestrator 爬取编排器
// 负责会话准备、搜索翻页、详情与评论的并发派发以及结果持久化
type Orchestrator struct {
	job          *models.CrawlJob
	client       models.FetchClient
	session      models.SessionProvider
	sink         models.Sink
	gate         *Gate
	loginHint    models.LoginHint
	commentDelay func() time.Duration
	showProgress bool

	seenMu sync.Mutex
	seen   map[string]struct{}

	stats runStats
}

// runStats 并发任务共享的计数器
type runStats struct {
	pagesFetched         atomic.Int64
	searchFailures       atomic.Int64
	itemsDispatched      atomic.Int64
	itemsPersisted       atomic.Int64
	itemsSkipped         atomic.Int64
	itemsDuplicate       atomic.Int64
	commentBatches       atomic.Int64
	commentBatchesFailed atomic.Int64
	commentsFetched      atomic.Int64
	commentsPersisted    atomic.Int64
	sinkFailures         atomic.Int64
	unknownErrors        atomic.Int64
}

// randomCommentDelay [0,1s) 均匀随机
func randomCommentDelay() time.Duration {
	return time.Duration(rand.Int64N(int64(time.Second)))
}

// NewOrchestrator 创建编排器
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Job == nil {
		return nil, fmt.Errorf("爬取任务不能为空")
	}
	if err := opts.Job.Validate(); err != nil {
		return nil, err
	}
	if opts.Client == nil || opts.Session == nil || opts.Sink == nil {
		return nil, fmt.Errorf("客户端、会话和存储都不能为空")
	}
	if opts.CommentDelay == nil {
		opts.CommentDelay = randomCommentDelay
	}

	return &Orchestrator{
		job:          opts.Job,
		client:       opts.Client,
		session:      opts.Session,
		sink:         opts.Sink,
		gate:         NewGate(opts.MaxConcurrency),
		loginHint:    opts.LoginHint,
		commentDelay: opts.CommentDelay,
		showProgress: opts.ShowProgress,
		seen:         make(map[string]struct{}),
	}, nil
}

// Run 执行一次完整的爬取
// 单个视频或评论任务的失败只记录日志和计数; 只有会话建立失败会返回错误
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:     uuid.New().String(),
		Mode:      o.job.Mode,
		StartTime: time.Now(),
	}
	utils.Logger.Info().
		Str("run_id", result.RunID).
		Str("mode", string(o.job.Mode)).
		Int("max_concurrency", o.gate.Capacity()).
		Msg("开始爬取")

	if err := o.ensureSession(ctx); err != nil {
		o.finish(result)
		return result, err
	}

	switch o.job.Mode {
	case models.CrawlerTypeSearch:
		o.searchLoop(ctx)
	case models.CrawlerTypeDetail:
		o.detailBatch(ctx)
	}

	o.finish(result)
	utils.Logger.Info().
		Str("run_id", result.RunID).
		Int("items_persisted", result.ItemsPersisted).
		Int("comments_persisted", result.CommentsPersisted).
		Float64("duration", result.Duration).
		Msg("爬取完成")
	return result, nil
}

// ensureSession 检查会话,失效时登录并同步凭证,同步后再次检查
func (o *Orchestrator) ensureSession(ctx context.Context) error {
	if o.session.Probe(ctx) {
		utils.Info("登录状态有效")
		return nil
	}

	utils.Info("登录状态无效,开始登录")
	session, err := o.session.Establish(ctx, o.loginHint)
	if err != nil {
		return sessionError(err)
	}
	if err := o.session.RefreshClientCredentials(ctx, session); err != nil {
		return sessionError(err)
	}
	if !o.session.Probe(ctx) {
		return fmt.Errorf("%w: 登录后登录状态仍然无效", models.ErrSessionEstablishment)
	}
	utils.Info("登录成功,会话已就绪")
	return nil
}

func sessionError(err error) error {
	if errors.Is(err, models.ErrSessionEstablishment) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrSessionEstablishment, err)
}

// searchLoop 按关键词顺序翻页搜索
// 每页的详情和评论全部完成后才进入下一页
func (o *Orchestrator) searchLoop(ctx context.Context) {
	for _, keyword := range o.job.Keywords {
		utils.Logger.Info().Str("keyword", keyword).Int("max_pages", o.job.MaxPages()).Msg("开始搜索关键词")

		var bar *progressbar.ProgressBar
		if o.showProgress {
			bar = utils.NewProgressBar(o.job.MaxPages(), "搜索 "+keyword)
		}

		for page := 1; o.job.ShouldFetchPage(page); page++ {
			if ctx.Err() != nil {
				utils.Warnf("任务已取消,停止搜索: %v", ctx.Err())
				return
			}

			res, err := o.searchPage(ctx, keyword, page)
			if err != nil {
				o.stats.searchFailures.Add(1)
				o.recordFailure(utils.Logger.With().Str("phase", phaseSearch).Str("keyword", keyword).Int("page", page).Logger(), err)
				break
			}
			o.stats.pagesFetched.Add(1)

			ids := o.claim(res.IDs)
			utils.Logger.Info().
				Str("keyword", keyword).
				Int("page", page).
				Int("found", len(res.IDs)).
				Int("new", len(ids)).
				Msg("搜索页完成")

			resolved := o.fetchDetails(ctx, ids, models.CrawlerTypeSearch)
			o.fetchComments(ctx, resolved)

			if bar != nil {
				_ = bar.Add(1)
			}
			if len(res.IDs) == 0 || (res.NumPages > 0 && page >= res.NumPages) {
				utils.Logger.Info().Str("keyword", keyword).Int("page", page).Msg("搜索结果已到末页")
				break
			}
		}

		if bar != nil {
			_ = bar.Finish()
		}
	}
}

func (o *Orchestrator) searchPage(ctx context.Context, keyword string, page int) (*models.SearchResult, error) {
	permit, err := o.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	return o.client.Search(ctx, keyword, page, o.job.PageSize, o.job.SearchOrder)
}

// detailBatch 详情模式: 详情只入库成功的视频,评论对全部配置的ID抓取
func (o *Orchestrator) detailBatch(ctx context.Context) {
	ids := o.claim(o.job.ExplicitIDs)
	resolved := o.fetchDetails(ctx, ids, models.CrawlerTypeDetail)
	utils.Logger.Info().
		Int("requested", len(ids)).
		Int("resolved", len(resolved)).
		Msg("详情批次完成")

	o.fetchComments(ctx, o.job.ExplicitIDs)
}

// claim 过滤本次运行已处理过的ID,同一批次内的重复也会被去掉
func (o *Orchestrator) claim(ids []string) []string {
	o.seenMu.Lock()
	defer o.seenMu.Unlock()

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := o.seen[id]; ok {
			o.stats.itemsDuplicate.Add(1)
			continue
		}
		o.seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

// fetchDetails 并发获取详情并逐个入库,返回成功的ID(保持输入顺序)
func (o *Orchestrator) fetchDetails(ctx context.Context, ids []string, via models.CrawlerType) []string {
	ok := make([]bool, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		o.stats.itemsDispatched.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			log := utils.TaskLogger(phaseDetail, id)

			item, err := o.fetchDetail(ctx, id)
			if err != nil {
				o.stats.itemsSkipped.Add(1)
				o.recordFailure(log, err)
				return
			}
			ok[i] = true

			item.DiscoveredVia = via
			if err := o.sink.UpsertItem(ctx, item); err != nil {
				o.stats.sinkFailures.Add(1)
				log.Error().Err(err).Msg("视频入库失败")
				return
			}
			o.stats.itemsPersisted.Add(1)
			log.Debug().Str("title", item.Title).Msg("视频已入库")
		}(i, id)
	}
	wg.Wait()

	resolved := make([]string, 0, len(ids))
	for i, id := range ids {
		if ok[i] {
			resolved = append(resolved, id)
		}
	}
	return resolved
}

func (o *Orchestrator) fetchDetail(ctx context.Context, id string) (*models.VideoItem, error) {
	permit, err := o.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	return o.client.FetchItemDetail(ctx, id)
}

// fetchComments 并发抓取评论,过滤截断后入库
func (o *Orchestrator) fetchComments(ctx context.Context, ids []string) {
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			log := utils.TaskLogger(phaseComment, id)

			comments, err := o.fetchAllComments(ctx, id)
			if err != nil {
				o.stats.commentBatchesFailed.Add(1)
				o.recordFailure(log, err)
				return
			}
			o.stats.commentsFetched.Add(int64(len(comments)))

			kept := ApplyCommentPolicy(comments, o.job)
			if err := o.sink.UpsertComments(ctx, id, kept); err != nil {
				o.stats.sinkFailures.Add(1)
				log.Error().Err(err).Msg("评论入库失败")
				return
			}
			o.stats.commentBatches.Add(1)
			o.stats.commentsPersisted.Add(int64(len(kept)))
			log.Debug().Int("fetched", len(comments)).Int("kept", len(kept)).Msg("评论已入库")
		}(id)
	}
	wg.Wait()
}

func (o *Orchestrator) fetchAllComments(ctx context.Context, id string) ([]models.Comment, error) {
	permit, err := o.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	return o.client.FetchAllComments(ctx, id, o.commentDelay)
}

// recordFailure 按错误分类记录日志,无法归类的错误单独计数
func (o *Orchestrator) recordFailure(log zerolog.Logger, err error) {
	class := models.ClassifyError(err)
	switch class {
	case models.ErrorClassUnknown:
		o.stats.unknownErrors.Add(1)
		log.Error().Str("error_class", string(class)).Err(err).Msg("未知错误,已跳过")
	case models.ErrorClassCanceled:
		log.Debug().Str("error_class", string(class)).Err(err).Msg("任务已取消")
	default:
		log.Warn().Str("error_class", string(class)).Err(err).Msg("获取失败,已跳过")
	}
}

func (o *Orchestrator) finish(result *models.RunResult) {
	s := &o.stats
	result.PagesFetched = int(s.pagesFetched.Load())
	result.SearchFailures = int(s.searchFailures.Load())
	result.ItemsDispatched = int(s.itemsDispatched.Load())
	result.ItemsPersisted = int(s.itemsPersisted.Load())
	result.ItemsSkipped = int(s.itemsSkipped.Load())
	result.ItemsDuplicate = int(s.itemsDuplicate.Load())
	result.CommentBatches = int(s.commentBatches.Load())
	result.CommentBatchesFailed = int(s.commentBatchesFailed.Load())
	result.CommentsFetched = int(s.commentsFetched.Load())
	result.CommentsPersisted = int(s.commentsPersisted.Load())
	result.SinkFailures = int(s.sinkFailures.Load())
	result.UnknownErrors = int(s.unknownErrors.Load())
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime).Seconds()
}
