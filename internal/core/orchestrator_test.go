package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient 可编排的FetchClient,记录调用并统计并发峰值
type fakeClient struct {
	mu sync.Mutex

	// 关键词 -> 每页返回的ID; 超出的页返回空
	pages      map[string][][]string
	searchErrs map[string]error // key: keyword#page
	detailErrs map[string]error
	comments   map[string][]string
	commentErr map[string]error

	searchCalls  map[string][]int
	detailCalls  []string
	commentCalls []string
	resolved     map[string]bool
	earlyComment []string
	events       []string // 全部调用的先后顺序

	latency  time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages:       make(map[string][][]string),
		searchErrs:  make(map[string]error),
		detailErrs:  make(map[string]error),
		comments:    make(map[string][]string),
		commentErr:  make(map[string]error),
		searchCalls: make(map[string][]int),
		resolved:    make(map[string]bool),
		latency:     time.Millisecond,
	}
}

func (f *fakeClient) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.latency)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeClient) Search(ctx context.Context, keyword string, page, pageSize int, order models.SearchOrder) (*models.SearchResult, error) {
	defer f.enter()()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls[keyword] = append(f.searchCalls[keyword], page)
	f.events = append(f.events, fmt.Sprintf("search:%s#%d", keyword, page))

	if err := f.searchErrs[fmt.Sprintf("%s#%d", keyword, page)]; err != nil {
		return nil, err
	}
	res := &models.SearchResult{Keyword: keyword, Page: page}
	if pages := f.pages[keyword]; page-1 < len(pages) {
		res.IDs = append(res.IDs, pages[page-1]...)
	}
	return res, nil
}

func (f *fakeClient) FetchItemDetail(ctx context.Context, itemID string) (*models.VideoItem, error) {
	defer f.enter()()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, itemID)
	f.events = append(f.events, "detail:"+itemID)
	if err := f.detailErrs[itemID]; err != nil {
		return nil, err
	}
	f.resolved[itemID] = true
	return &models.VideoItem{ID: itemID, Title: "视频" + itemID, Raw: []byte(`{}`)}, nil
}

func (f *fakeClient) FetchAllComments(ctx context.Context, itemID string, delay func() time.Duration) ([]models.Comment, error) {
	defer f.enter()()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commentCalls = append(f.commentCalls, itemID)
	f.events = append(f.events, "comment:"+itemID)
	if !f.resolved[itemID] {
		f.earlyComment = append(f.earlyComment, itemID)
	}
	if err := f.commentErr[itemID]; err != nil {
		return nil, err
	}

	var out []models.Comment
	for i, text := range f.comments[itemID] {
		out = append(out, models.Comment{VideoID: itemID, CommentID: strconv.Itoa(i), Content: text})
	}
	return out, nil
}

func (f *fakeClient) eventIndex(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (f *fakeClient) sortedCommentCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.commentCalls...)
	sort.Strings(out)
	return out
}

type fakeSession struct {
	valid       bool
	establishes int
	refreshes   int
	checks      int
	establish   error
	refresh     error
	// deadAfterLogin 登录和刷新都成功,但会话依旧无效
	deadAfterLogin bool
}

func (s *fakeSession) Probe(ctx context.Context) bool {
	s.checks++
	if s.refreshes > 0 {
		return !s.deadAfterLogin
	}
	return s.valid
}

func (s *fakeSession) Establish(ctx context.Context, hint models.LoginHint) (*models.Session, error) {
	s.establishes++
	if s.establish != nil {
		return nil, s.establish
	}
	return models.NewSession(map[string]string{"SESSDATA": "x"}), nil
}

func (s *fakeSession) RefreshClientCredentials(ctx context.Context, session *models.Session) error {
	s.refreshes++
	return s.refresh
}

func idRange(prefix string, from, n int) []string {
	out := make([]string, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}

func mustJob(t *testing.T, opts models.JobOptions) *models.CrawlJob {
	t.Helper()
	job, err := models.NewCrawlJob(opts)
	require.NoError(t, err)
	return job
}

func newTestOrchestrator(t *testing.T, job *models.CrawlJob, client models.FetchClient, sink models.Sink, concurrency int) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorOptions{
		Job:            job,
		Client:         client,
		Session:        &fakeSession{valid: true},
		Sink:           sink,
		MaxConcurrency: concurrency,
		CommentDelay:   func() time.Duration { return 0 },
	})
	require.NoError(t, err)
	return o
}

// page_size=20, max_items=15 只抓第一页
func TestOrchestrator_SearchSinglePage(t *testing.T) {
	client := newFakeClient()
	client.pages["cats"] = [][]string{idRange("a", 0, 20), idRange("a", 20, 20)}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"cats"}, MaxItems: 15})
	result, err := newTestOrchestrator(t, job, client, sink, 4).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, client.searchCalls["cats"])
	assert.Equal(t, 1, result.PagesFetched)
	assert.Equal(t, 20, result.ItemsPersisted, "最后一页允许超出max_items不足一页的部分")
}

// page_size=20, max_items=45 抓第1、2页,不抓第3页
func TestOrchestrator_SearchTwoPages(t *testing.T) {
	client := newFakeClient()
	client.pages["dogs"] = [][]string{idRange("d", 0, 20), idRange("d", 20, 20), idRange("d", 40, 20)}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"dogs"}, MaxItems: 45})
	result, err := newTestOrchestrator(t, job, client, sink, 4).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, client.searchCalls["dogs"])
	assert.Equal(t, 40, sink.ItemCount())
	assert.Equal(t, 2, result.PagesFetched)
}

// 下一页的搜索必须等上一页的详情和评论全部完成
func TestOrchestrator_PagesRunInSequence(t *testing.T) {
	client := newFakeClient()
	page1 := idRange("p1_", 0, 5)
	client.pages["k"] = [][]string{page1, idRange("p2_", 0, 5)}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"k"}, MaxItems: 10, PageSize: 5})
	_, err := newTestOrchestrator(t, job, client, sink, 3).Run(context.Background())
	require.NoError(t, err)

	nextSearch := client.eventIndex("search:k#2")
	require.GreaterOrEqual(t, nextSearch, 0, "应抓取第2页")
	for _, id := range page1 {
		detail := client.eventIndex("detail:" + id)
		comment := client.eventIndex("comment:" + id)
		require.GreaterOrEqual(t, detail, 0, id)
		require.GreaterOrEqual(t, comment, 0, id)
		assert.Less(t, detail, nextSearch, "第1页详情 %s 应在第2页搜索之前", id)
		assert.Less(t, comment, nextSearch, "第1页评论 %s 应在第2页搜索之前", id)
	}
}

// 单个关键词抓取总数不超过 ceil(max_items/page_size)*page_size
func TestOrchestrator_SearchCeiling(t *testing.T) {
	for _, maxItems := range []int{1, 19, 20, 21, 39, 40, 41, 99} {
		t.Run(strconv.Itoa(maxItems), func(t *testing.T) {
			client := newFakeClient()
			client.latency = 0
			var pages [][]string
			for p := 0; p < 10; p++ {
				pages = append(pages, idRange(fmt.Sprintf("k%d_", p), 0, 20))
			}
			client.pages["k"] = pages
			sink := store.NewMemorySink()

			job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"k"}, MaxItems: maxItems})
			_, err := newTestOrchestrator(t, job, client, sink, 8).Run(context.Background())
			require.NoError(t, err)

			ceiling := (maxItems + 19) / 20 * 20
			assert.LessOrEqual(t, len(client.detailCalls), ceiling)
		})
	}
}

// 详情模式下一个失败一个成功,只入库一个,但两个都抓评论
func TestOrchestrator_DetailCommentsUseConfiguredIDs(t *testing.T) {
	client := newFakeClient()
	client.detailErrs["v1"] = &models.DataFetchError{URI: "/x/web-interface/view/detail", Code: -404, Message: "啥都木有"}
	client.comments["v1"] = []string{"一条评论"}
	client.comments["v2"] = []string{"另一条评论"}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeDetail, ExplicitIDs: []string{"v1", "v2"}})
	result, err := newTestOrchestrator(t, job, client, sink, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sink.ItemWrites(), "只应有一次视频写入")
	_, ok := sink.Item("v2")
	assert.True(t, ok)
	assert.Equal(t, []string{"v1", "v2"}, client.sortedCommentCalls(), "详情模式下评论对全部ID抓取")
	assert.True(t, sink.HasComments("v1"))

	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Equal(t, 2, result.CommentBatches)
}

// 搜索模式下详情失败的视频不抓评论,且评论总在详情完成之后
func TestOrchestrator_SearchSkipsCommentsForFailedDetails(t *testing.T) {
	client := newFakeClient()
	client.pages["k"] = [][]string{{"1", "2", "3"}}
	client.detailErrs["2"] = fmt.Errorf("视频 2 详情缺少View.aid: %w", models.ErrFieldMissing)
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"k"}, MaxItems: 3})
	result, err := newTestOrchestrator(t, job, client, sink, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "3"}, client.sortedCommentCalls())
	assert.Empty(t, client.earlyComment)
	assert.Equal(t, 2, result.ItemsPersisted)
	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Equal(t, 0, result.UnknownErrors, "字段缺失属于已知错误")
}

// 评论过滤与截断后入库
func TestOrchestrator_CommentFilter(t *testing.T) {
	client := newFakeClient()
	client.comments["9"] = []string{"great show", "bad day"}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{
		Mode:               models.CrawlerTypeDetail,
		ExplicitIDs:        []string{"9"},
		CommentKeywords:    []string{"great"},
		MaxCommentsPerItem: 10,
	})
	result, err := newTestOrchestrator(t, job, client, sink, 2).Run(context.Background())
	require.NoError(t, err)

	got := sink.Comments("9")
	require.Len(t, got, 1)
	assert.Equal(t, "great show", got[0].Content)
	assert.Equal(t, 2, result.CommentsFetched)
	assert.Equal(t, 1, result.CommentsPersisted)
}

func TestOrchestrator_CommentTruncation(t *testing.T) {
	client := newFakeClient()
	client.comments["1"] = []string{"a", "b", "c", "d", "e"}
	client.comments["2"] = []string{"a", "b", "c", "d", "e"}

	for _, tt := range []struct {
		name  string
		limit int
		want  int
	}{
		{"上限3", 3, 3},
		{"不限制", 0, 5},
	} {
		t.Run(tt.name, func(t *testing.T) {
			sink := store.NewMemorySink()
			job := mustJob(t, models.JobOptions{
				Mode:               models.CrawlerTypeDetail,
				ExplicitIDs:        []string{"1", "2"},
				MaxCommentsPerItem: tt.limit,
			})
			_, err := newTestOrchestrator(t, job, client, sink, 2).Run(context.Background())
			require.NoError(t, err)
			assert.Len(t, sink.Comments("1"), tt.want)
			assert.Len(t, sink.Comments("2"), tt.want)
		})
	}
}

// 详情与评论任务共享同一并发配额
func TestOrchestrator_ConcurrencyNeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 5} {
		t.Run(strconv.Itoa(limit), func(t *testing.T) {
			client := newFakeClient()
			client.pages["k"] = [][]string{idRange("p1_", 0, 20), idRange("p2_", 0, 20)}
			for _, id := range append(idRange("p1_", 0, 20), idRange("p2_", 0, 20)...) {
				client.comments[id] = []string{"x"}
			}
			sink := store.NewMemorySink()

			job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"k"}, MaxItems: 40})
			_, err := newTestOrchestrator(t, job, client, sink, limit).Run(context.Background())
			require.NoError(t, err)

			assert.LessOrEqual(t, int(client.maxSeen.Load()), limit)
			assert.Equal(t, 40, sink.ItemCount())
		})
	}
}

func TestOrchestrator_DeduplicatesAcrossPagesAndKeywords(t *testing.T) {
	client := newFakeClient()
	client.pages["a"] = [][]string{{"1", "2", "2"}, {"2", "3"}}
	client.pages["b"] = [][]string{{"3", "4"}}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"a", "b"}, MaxItems: 40, PageSize: 20})
	result, err := newTestOrchestrator(t, job, client, sink, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, client.detailCalls, 4, "每个ID只获取一次详情")
	assert.Equal(t, 4, sink.ItemWrites())
	assert.Equal(t, 3, result.ItemsDuplicate)
}

func TestOrchestrator_SearchFailureMovesToNextKeyword(t *testing.T) {
	client := newFakeClient()
	client.pages["a"] = [][]string{{"1"}, {"2"}}
	client.pages["b"] = [][]string{{"3"}}
	client.searchErrs["a#1"] = &models.DataFetchError{URI: "/search", StatusCode: 412}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"a", "b"}, MaxItems: 40})
	result, err := newTestOrchestrator(t, job, client, sink, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1}, client.searchCalls["a"], "失败后不再翻页")
	assert.Equal(t, []int{1, 2}, client.searchCalls["b"])
	assert.Equal(t, 1, result.SearchFailures)
	assert.Equal(t, 1, sink.ItemCount())
}

func TestOrchestrator_StopsOnEmptyPage(t *testing.T) {
	client := newFakeClient()
	client.pages["a"] = [][]string{{"1"}}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"a"}, MaxItems: 100})
	_, err := newTestOrchestrator(t, job, client, sink, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, client.searchCalls["a"])
}

func TestOrchestrator_CommentFailureDoesNotAffectSiblings(t *testing.T) {
	client := newFakeClient()
	client.commentErr["1"] = errors.New("连接被重置")
	client.comments["2"] = []string{"ok"}
	sink := store.NewMemorySink()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeDetail, ExplicitIDs: []string{"1", "2"}})
	result, err := newTestOrchestrator(t, job, client, sink, 2).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, sink.HasComments("1"))
	assert.Len(t, sink.Comments("2"), 1)
	assert.Equal(t, 1, result.CommentBatchesFailed)
	assert.Equal(t, 1, result.UnknownErrors, "普通网络错误归为未知错误")
}

func TestOrchestrator_Session(t *testing.T) {
	job := &models.CrawlJob{Mode: models.CrawlerTypeDetail, ExplicitIDs: []string{"1"}, PageSize: 20}

	t.Run("会话有效时不登录", func(t *testing.T) {
		sess := &fakeSession{valid: true}
		o, err := NewOrchestrator(OrchestratorOptions{Job: job, Client: newFakeClient(), Session: sess, Sink: store.NewMemorySink()})
		require.NoError(t, err)
		_, err = o.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, sess.establishes)
	})

	t.Run("会话失效时登录并刷新凭证", func(t *testing.T) {
		sess := &fakeSession{}
		o, err := NewOrchestrator(OrchestratorOptions{Job: job, Client: newFakeClient(), Session: sess, Sink: store.NewMemorySink(),
			CommentDelay: func() time.Duration { return 0 }})
		require.NoError(t, err)
		_, err = o.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sess.establishes)
		assert.Equal(t, 1, sess.refreshes)
		assert.Equal(t, 2, sess.checks, "刷新凭证后应再次检查")
	})

	t.Run("刷新后检查仍失败终止运行", func(t *testing.T) {
		client := newFakeClient()
		sess := &fakeSession{deadAfterLogin: true}
		o, err := NewOrchestrator(OrchestratorOptions{Job: job, Client: client, Session: sess, Sink: store.NewMemorySink()})
		require.NoError(t, err)

		_, err = o.Run(context.Background())
		assert.ErrorIs(t, err, models.ErrSessionEstablishment)
		assert.Equal(t, 1, sess.refreshes)
		assert.Empty(t, client.detailCalls, "会话无效时不应发起任何抓取")
	})

	t.Run("登录失败终止运行", func(t *testing.T) {
		client := newFakeClient()
		sess := &fakeSession{establish: errors.New("扫码超时")}
		o, err := NewOrchestrator(OrchestratorOptions{Job: job, Client: client, Session: sess, Sink: store.NewMemorySink()})
		require.NoError(t, err)

		result, err := o.Run(context.Background())
		assert.ErrorIs(t, err, models.ErrSessionEstablishment)
		require.NotNil(t, result)
		assert.Empty(t, client.detailCalls, "会话失败后不应发起任何抓取")
	})

	t.Run("刷新凭证失败终止运行", func(t *testing.T) {
		sess := &fakeSession{refresh: errors.New("写入cookie失败")}
		o, err := NewOrchestrator(OrchestratorOptions{Job: job, Client: newFakeClient(), Session: sess, Sink: store.NewMemorySink()})
		require.NoError(t, err)
		_, err = o.Run(context.Background())
		assert.ErrorIs(t, err, models.ErrSessionEstablishment)
	})
}

func TestOrchestrator_SinkFailureCounted(t *testing.T) {
	client := newFakeClient()
	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeDetail, ExplicitIDs: []string{"1"}})
	o := newTestOrchestrator(t, job, client, failingSink{}, 1)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.SinkFailures)
	assert.Equal(t, 0, result.ItemsPersisted)
}

type failingSink struct{}

func (failingSink) UpsertItem(ctx context.Context, item *models.VideoItem) error {
	return errors.New("磁盘已满")
}

func (failingSink) UpsertComments(ctx context.Context, itemID string, comments []models.Comment) error {
	return errors.New("磁盘已满")
}

func (failingSink) Close() error { return nil }

func TestOrchestrator_CanceledContextStopsSearch(t *testing.T) {
	client := newFakeClient()
	client.pages["a"] = [][]string{{"1"}}
	sink := store.NewMemorySink()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := mustJob(t, models.JobOptions{Mode: models.CrawlerTypeSearch, Keywords: []string{"a"}, MaxItems: 20})
	result, err := newTestOrchestrator(t, job, client, sink, 1).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, client.searchCalls["a"])
	assert.Equal(t, 0, result.PagesFetched)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	job := &models.CrawlJob{Mode: models.CrawlerTypeDetail, ExplicitIDs: []string{"1"}, PageSize: 20}

	_, err := NewOrchestrator(OrchestratorOptions{Client: newFakeClient(), Session: &fakeSession{}, Sink: store.NewMemorySink()})
	assert.Error(t, err, "缺少任务")

	_, err = NewOrchestrator(OrchestratorOptions{Job: job, Session: &fakeSession{}, Sink: store.NewMemorySink()})
	assert.Error(t, err, "缺少客户端")

	_, err = NewOrchestrator(OrchestratorOptions{Job: &models.CrawlJob{Mode: models.CrawlerTypeSearch, PageSize: 20}, Client: newFakeClient(),
		Session: &fakeSession{}, Sink: store.NewMemorySink()})
	assert.Error(t, err, "搜索模式缺少关键词")
}
