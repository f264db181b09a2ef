package autoreply

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/notify"
	"github.com/Linggaept/backend-waspread-sub001/internal/queue"
	"github.com/Linggaept/backend-waspread-sub001/internal/quota"
	quotamock "github.com/Linggaept/backend-waspread-sub001/internal/quota/mock"
	"github.com/Linggaept/backend-waspread-sub001/internal/replygen"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage/memory"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	transportmock "github.com/Linggaept/backend-waspread-sub001/internal/transport/mock"
)

const (
	tenant = "tenant-ar"
	phone  = "628111"
)

// 10:00 in Asia/Jakarta.
var t0 = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

type generatorMock struct {
	mock.Mock
}

func (m *generatorMock) Generate(ctx context.Context, req replygen.Request) (*replygen.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*replygen.Result)
	return res, args.Error(1)
}

type env struct {
	svc       *Service
	store     *memory.Store
	queue     *queue.MemoryQueue
	ledger    *quotamock.LedgerMock
	generator *generatorMock
	transport *transportmock.TransportMock
	notified  *notify.Recorder
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:     memory.New(),
		ledger:    new(quotamock.LedgerMock),
		generator: new(generatorMock),
		transport: new(transportmock.TransportMock),
		notified:  &notify.Recorder{},
		now:       t0,
	}
	e.queue = queue.NewMemoryQueue(zap.NewNop(), e.store, queue.WithClock(e.clock))
	e.svc = NewService(e.store, e.store, e.ledger, nil, e.generator, e.transport, e.queue, e.notified, config.AutoReplyConfig{
		MaxAttempts:     2,
		BackoffDelay:    10 * time.Second,
		DefaultTimezone: "Asia/Jakarta",
		TextCost:        1,
		ImageCost:       3,
		BlocklistFPRate: 0.01,
	}, zap.NewNop())
	e.svc.SetClock(e.clock)
	e.svc.SetRand(rand.New(rand.NewSource(7)))
	require.NoError(t, e.queue.Register(queue.AutoReplySend, e.svc.ProcessReply))
	return e
}

func (e *env) clock() time.Time { return e.now }

func (e *env) settings(t *testing.T, ovr *model.AutoReplySettings) {
	t.Helper()
	ovr.TenantID = tenant
	require.NoError(t, e.store.SaveAutoReplySettings(context.Background(), model.NewAutoReplySettings(ovr)))
}

func (e *env) funded() {
	e.ledger.On("CheckAiBalance", mock.Anything, tenant, mock.Anything).Return(quota.Balance{HasEnough: true, Balance: 50}, nil).Maybe()
}

func (e *env) sentAt(t *testing.T, at time.Time) {
	t.Helper()
	require.NoError(t, e.store.CreateAutoReplyLog(context.Background(), &model.AutoReplyLog{
		TenantID: tenant, Phone: phone, Status: model.AutoReplySent, SentAt: &at,
	}))
}

func inbound(text string) Inbound {
	return Inbound{TenantID: tenant, Phone: phone, MessageID: "in-1", Text: text}
}

func TestWithinWorkingHours(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	at := func(h, m int) time.Time { return time.Date(2026, 6, 1, h, m, 0, 0, wib) }

	tests := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{"overnight late evening", "22:00", "06:00", at(23, 0), true},
		{"overnight early morning", "22:00", "06:00", at(5, 0), true},
		{"overnight midday", "22:00", "06:00", at(12, 0), false},
		{"overnight start inclusive", "22:00", "06:00", at(22, 0), true},
		{"overnight end inclusive", "22:00", "06:00", at(6, 0), true},
		{"daytime inside", "09:00", "17:00", at(10, 30), true},
		{"daytime before", "09:00", "17:00", at(8, 59), false},
		{"daytime after", "09:00", "17:00", at(17, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithinWorkingHours(tt.start, tt.end, wib, tt.now.UTC())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := WithinWorkingHours("25:00", "06:00", wib, at(1, 0))
	assert.Error(t, err)
}

func TestConfigPricing(t *testing.T) {
	p := ConfigPricing{Text: 1, Image: 3}
	assert.Equal(t, 1.0, p.EstimateCost(nil, false))
	assert.Equal(t, 3.0, p.EstimateCost(nil, true))

	text, image := 0.5, 4.0
	s := &model.AutoReplySettings{TextCost: &text, ImageCost: &image}
	assert.Equal(t, 0.5, p.EstimateCost(s, false))
	assert.Equal(t, 4.0, p.EstimateCost(s, true))
}

func TestHandleIncoming_NoSettingsIsDisabled(t *testing.T) {
	e := newEnv(t)

	entry, err := e.svc.HandleIncoming(context.Background(), inbound("halo"))
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplySkipped, entry.Status)
	assert.Equal(t, model.SkipReasonDisabled, entry.SkipReason)
	e.ledger.AssertNotCalled(t, "CheckAiBalance", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, e.queue.Pending(""))
}

func TestHandleIncoming_GateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled before balance", func(t *testing.T) {
		e := newEnv(t)
		e.settings(t, &model.AutoReplySettings{Enabled: false, WorkingHoursEnabled: true, WorkingHoursStart: "22:00", WorkingHoursEnd: "06:00"})
		entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
		require.NoError(t, err)
		assert.Equal(t, model.SkipReasonDisabled, entry.SkipReason)
	})

	t.Run("balance before working hours", func(t *testing.T) {
		e := newEnv(t)
		e.settings(t, &model.AutoReplySettings{Enabled: true, WorkingHoursEnabled: true, WorkingHoursStart: "22:00", WorkingHoursEnd: "06:00", Blocklist: []string{phone}})
		e.ledger.On("CheckAiBalance", mock.Anything, tenant, 1.0).Return(quota.Balance{HasEnough: false, Balance: 0.2}, nil)
		entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
		require.NoError(t, err)
		assert.Equal(t, model.SkipReasonInsufficientBalance, entry.SkipReason)
	})

	t.Run("working hours before blocklist", func(t *testing.T) {
		e := newEnv(t)
		e.funded()
		e.settings(t, &model.AutoReplySettings{Enabled: true, WorkingHoursEnabled: true, WorkingHoursStart: "22:00", WorkingHoursEnd: "06:00", Blocklist: []string{phone}})
		entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
		require.NoError(t, err)
		assert.Equal(t, model.SkipReasonOutsideWorkingHours, entry.SkipReason)
	})

	t.Run("blocklist before cooldown", func(t *testing.T) {
		e := newEnv(t)
		e.funded()
		e.settings(t, &model.AutoReplySettings{Enabled: true, Blocklist: []string{"628999", phone}, CooldownMinutes: 60})
		e.sentAt(t, t0.Add(-time.Minute))
		entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
		require.NoError(t, err)
		assert.Equal(t, model.SkipReasonBlocked, entry.SkipReason)
	})

	t.Run("skips are logged", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.HandleIncoming(ctx, inbound("halo"))
		require.NoError(t, err)
		logs := e.store.AutoReplyLogs(tenant)
		require.Len(t, logs, 1)
		assert.Equal(t, model.AutoReplySkipped, logs[0].Status)
		assert.Equal(t, "halo", logs[0].InboundText)
	})
}

func TestHandleIncoming_Cooldown(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true, CooldownMinutes: 60})
	e.sentAt(t, t0)

	e.now = t0.Add(30 * time.Minute)
	entry, err := e.svc.HandleIncoming(ctx, inbound("masih ada?"))
	require.NoError(t, err)
	assert.Equal(t, model.SkipReasonCooldown, entry.SkipReason)

	e.now = t0.Add(61 * time.Minute)
	entry, err = e.svc.HandleIncoming(ctx, inbound("halo lagi"))
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplyQueued, entry.Status)
	assert.Empty(t, entry.SkipReason)
}

func TestHandleIncoming_QueuesDelayedJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true, DelayMinSeconds: 5, DelayMaxSeconds: 30})

	entry, err := e.svc.HandleIncoming(ctx, inbound("berapa harganya?"))
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplyQueued, entry.Status)
	assert.GreaterOrEqual(t, entry.DelaySeconds, 5)
	assert.LessOrEqual(t, entry.DelaySeconds, 30)
	assert.Equal(t, 1.0, entry.EstimatedCost)

	pending := e.queue.Pending(queue.AutoReplySend)
	require.Len(t, pending, 1)
	job := pending[0]
	assert.Equal(t, entry.ID, job.ID)
	assert.Equal(t, 2, job.MaxAttempts)
	assert.Equal(t, queue.Fixed(10*time.Second), job.Backoff)
	assert.Equal(t, t0.Add(time.Duration(entry.DelaySeconds)*time.Second), job.NotBefore)
}

func TestDelay_InclusiveBounds(t *testing.T) {
	e := newEnv(t)
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		d := e.svc.delay(2, 4)
		require.GreaterOrEqual(t, d, 2)
		require.LessOrEqual(t, d, 4)
		seen[d] = true
	}
	assert.Len(t, seen, 3, "both ends are reachable")
	assert.Equal(t, 3, e.svc.delay(3, 3))
	assert.Equal(t, 0, e.svc.delay(0, 0))
	d := e.svc.delay(9, 6)
	assert.True(t, d >= 6 && d <= 9)
}

func TestProcessReply_SendsAndDebitsActualCost(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true})

	entry, err := e.svc.HandleIncoming(ctx, inbound("ada warna merah?"))
	require.NoError(t, err)

	e.generator.On("Generate", mock.Anything, replygen.Request{TenantID: tenant, Phone: phone, Text: "ada warna merah?"}).
		Return(&replygen.Result{Suggestions: []string{"Ada kak, stok merah tersedia.", "Ada."}, CostUnits: 0.7}, nil)
	e.transport.On("Send", mock.Anything, transport.Message{TenantID: tenant, Phone: phone, Text: "Ada kak, stok merah tersedia."}).Return("wamid-ar", nil)
	e.ledger.On("DebitAi", mock.Anything, tenant, FeatureText, 0.7, entry.ID).Return(nil)

	e.now = t0.Add(time.Minute)
	assert.Equal(t, 1, e.queue.RunDue(ctx, e.now))

	got, err := e.store.FindAutoReplyLog(ctx, tenant, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplySent, got.Status)
	assert.Equal(t, "Ada kak, stok merah tersedia.", got.ReplyText)
	assert.Equal(t, "wamid-ar", got.TransportMessageID)
	assert.Equal(t, 0.7, got.CostUnits)
	assert.False(t, got.UsedFallback)
	require.NotNil(t, got.SentAt)

	e.ledger.AssertExpectations(t)
	assert.Len(t, e.notified.Events(notify.AutoReplySent), 1)

	last, err := e.store.LastAutoReplySentAt(ctx, tenant, phone)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(time.Minute), *last)
}

func TestProcessReply_FallbackIsFree(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true, FallbackMessage: "Terima kasih, admin kami akan segera membalas."})

	entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
	require.NoError(t, err)

	e.generator.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("model overloaded"))
	e.transport.On("Send", mock.Anything, mock.Anything).Return("wamid-fb", nil)

	e.now = t0.Add(time.Minute)
	e.queue.RunDue(ctx, e.now)

	got, err := e.store.FindAutoReplyLog(ctx, tenant, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplySent, got.Status)
	assert.True(t, got.UsedFallback)
	assert.Zero(t, got.CostUnits)
	assert.Equal(t, "Terima kasih, admin kami akan segera membalas.", got.ReplyText)
	e.ledger.AssertNotCalled(t, "DebitAi", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessReply_GeneratorFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true, FallbackMessage: ""})

	entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
	require.NoError(t, err)
	e.generator.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("reply service unavailable"))

	e.now = t0.Add(time.Minute)
	e.queue.RunDue(ctx, e.now)
	got, err := e.store.FindAutoReplyLog(ctx, tenant, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplyQueued, got.Status)
	require.Len(t, e.queue.Pending(queue.AutoReplySend), 1)

	e.now = e.now.Add(10 * time.Second)
	e.queue.RunDue(ctx, e.now)
	got, err = e.store.FindAutoReplyLog(ctx, tenant, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplyFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "reply service unavailable")
	assert.Empty(t, e.queue.Pending(queue.AutoReplySend))
	e.generator.AssertNumberOfCalls(t, "Generate", 2)
	e.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestProcessReply_NotRegisteredFailsImmediately(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true})

	entry, err := e.svc.HandleIncoming(ctx, inbound("halo"))
	require.NoError(t, err)
	e.generator.On("Generate", mock.Anything, mock.Anything).Return(&replygen.Result{Suggestions: []string{"Halo!"}, CostUnits: 1}, nil)
	e.transport.On("Send", mock.Anything, mock.Anything).Return("", apperrors.ErrNotRegistered)

	e.now = t0.Add(time.Minute)
	e.queue.RunDue(ctx, e.now)

	got, err := e.store.FindAutoReplyLog(ctx, tenant, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplyFailed, got.Status)
	assert.Empty(t, e.queue.Pending(queue.AutoReplySend))
	e.ledger.AssertNotCalled(t, "DebitAi", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleIncoming_MediaIsPricedAndForwarded(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.settings(t, &model.AutoReplySettings{Enabled: true})
	e.ledger.On("CheckAiBalance", mock.Anything, tenant, 3.0).Return(quota.Balance{HasEnough: true, Balance: 10}, nil)

	in := inbound("ini produknya?")
	in.MediaFetcher = func(context.Context) ([]byte, string, error) {
		return []byte("jpeg-bytes"), "image/jpeg", nil
	}
	entry, err := e.svc.HandleIncoming(ctx, in)
	require.NoError(t, err)
	assert.True(t, entry.HasMedia)
	assert.Equal(t, 3.0, entry.EstimatedCost)

	e.generator.On("Generate", mock.Anything, mock.MatchedBy(func(r replygen.Request) bool {
		return string(r.Media) == "jpeg-bytes" && r.MediaMimeType == "image/jpeg"
	})).Return(&replygen.Result{Suggestions: []string{"Betul kak"}}, nil)
	e.transport.On("Send", mock.Anything, mock.Anything).Return("wamid-m", nil)
	e.ledger.On("DebitAi", mock.Anything, tenant, FeatureImage, 3.0, entry.ID).Return(nil)

	e.now = t0.Add(time.Minute)
	e.queue.RunDue(ctx, e.now)
	e.ledger.AssertExpectations(t)
	e.generator.AssertExpectations(t)
}

func TestHandleIncoming_MediaFetchFailureStillQueues(t *testing.T) {
	e := newEnv(t)
	e.funded()
	e.settings(t, &model.AutoReplySettings{Enabled: true})

	in := inbound("lihat foto")
	in.MediaFetcher = func(context.Context) ([]byte, string, error) { return nil, "", errors.New("gone") }
	entry, err := e.svc.HandleIncoming(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.AutoReplyQueued, entry.Status)
}

func TestHTTPMediaFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, mime, err := HTTPMediaFetcher(srv.Client(), srv.URL+"/small", 32, time.Second)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
	assert.Equal(t, "image/png", mime)

	_, _, err = HTTPMediaFetcher(srv.Client(), srv.URL+"/big", 32, time.Second)(context.Background())
	assert.ErrorContains(t, err, "exceeds")

	_, _, err = HTTPMediaFetcher(srv.Client(), srv.URL+"/missing", 32, time.Second)(context.Background())
	assert.ErrorContains(t, err, "404")
}
