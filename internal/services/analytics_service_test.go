package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/um_tracker/internal/config"
	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/feature"
	"github.com/victoralfred/um_tracker/internal/domain/session"
)

func TestAnalyticsService_MaxEventsPerSessionWithFailingProvider(t *testing.T) {
	ctx := context.Background()
	cfg := testAnalyticsConfig("custom")
	cfg.MaxEventsPerSession = 3
	failing := newRecordingProvider("custom")
	failing.setFailing(true)
	h := newTestHarness(t, cfg, []analytics.Provider{failing})

	for i := 0; i < 3; i++ {
		id, ok := h.service.TrackEvent(ctx, analytics.EventTypeCustom, map[string]interface{}{}, nil, nil)
		require.True(t, ok)
		assert.NotEmpty(t, id)
	}
	assert.Equal(t, 3, h.service.QueueLength())

	id, ok := h.service.TrackEvent(ctx, analytics.EventTypeCustom, map[string]interface{}{}, nil, nil)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, 3, h.service.QueueLength())

	sess, found := h.service.Session()
	require.True(t, found)
	assert.Equal(t, 3, sess.EventCount)
}

func TestAnalyticsService_UTMAttribution(t *testing.T) {
	ctx := context.Background()
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, testAnalyticsConfig("rec"), []analytics.Provider{rec})
	h.env.Navigate("https://example.com/landing?utm_source=newsletter&utm_campaign=spring", "Landing")

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeContentView, nil, nil, nil)
	require.True(t, ok)

	dims := rec.last(t).Dimensions
	assert.Equal(t, "newsletter", dims[analytics.DimensionUTMSource])
	assert.Equal(t, "spring", dims[analytics.DimensionUTMCampaign])
	assert.NotContains(t, dims, analytics.DimensionUTMMedium)
	assert.NotContains(t, dims, analytics.DimensionUTMTerm)
	assert.NotContains(t, dims, analytics.DimensionUTMContent)
}

func TestAnalyticsService_EventEnrichment(t *testing.T) {
	ctx := context.Background()
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, testAnalyticsConfig("rec"), []analytics.Provider{rec})
	h.env.Navigate("https://example.com/products/42", "Product 42")

	id, ok := h.service.TrackEvent(ctx,
		analytics.EventTypeAddToCart,
		map[string]interface{}{"sku": "P-42"},
		map[analytics.Dimension]interface{}{analytics.DimensionBrowser: "Override"},
		map[analytics.Metric]float64{analytics.MetricValue: 19.99, analytics.MetricQuantity: 1},
	)
	require.True(t, ok)

	event := rec.last(t)
	sess, _ := h.service.Session()
	assert.Equal(t, id, event.ID)
	assert.Equal(t, analytics.EventTypeAddToCart, event.Type)
	assert.Equal(t, sess.ID, event.SessionID)
	assert.Equal(t, h.clock.Now().UTC(), event.Timestamp)
	assert.Equal(t, "P-42", event.Properties["sku"])

	assert.Equal(t, "Override", event.Dimensions[analytics.DimensionBrowser], "caller dimensions take precedence")
	assert.Equal(t, "Desktop", event.Dimensions[analytics.DimensionDevice])
	assert.Equal(t, "/products/42", event.Dimensions[analytics.DimensionPagePath])
	assert.Equal(t, "Product 42", event.Dimensions[analytics.DimensionPageTitle])
	assert.Equal(t, "https://example.com/", event.Dimensions[analytics.DimensionReferrer])
	assert.Equal(t, h.service.AnonymousID(), event.Dimensions[analytics.DimensionAnonymousID])
	assert.Equal(t, "en-GB", event.Dimensions[analytics.DimensionLanguage])
	assert.Equal(t, 19.99, event.Metrics[analytics.MetricValue])
}

func TestAnalyticsService_DimensionFiltering(t *testing.T) {
	ctx := context.Background()
	cfg := testAnalyticsConfig("rec")
	cfg.EnabledDimensions = []string{"session_id", "content_id", "content_type"}
	cfg.EnabledMetrics = []string{"scroll_depth"}
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, cfg, []analytics.Provider{rec})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeContentView, nil,
		map[analytics.Dimension]interface{}{
			analytics.DimensionContentID:   "article-7",
			analytics.DimensionContentType: nil,
			analytics.DimensionVariant:     "B",
		},
		map[analytics.Metric]float64{
			analytics.MetricScrollDepth: 75,
			analytics.MetricLoadTime:    1200,
		},
	)
	require.True(t, ok)

	event := rec.last(t)
	sess, _ := h.service.Session()
	assert.Equal(t, map[analytics.Dimension]interface{}{
		analytics.DimensionSessionID: sess.ID,
		analytics.DimensionContentID: "article-7",
	}, event.Dimensions)
	assert.Equal(t, map[analytics.Metric]float64{analytics.MetricScrollDepth: 75}, event.Metrics)
}

func TestAnalyticsService_RetryIsolation(t *testing.T) {
	ctx := context.Background()
	a := newRecordingProvider("a")
	a.setFailing(true)
	b := newRecordingProvider("b")
	h := newTestHarness(t, testAnalyticsConfig("a", "b"), []analytics.Provider{a, b})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)

	assert.Len(t, b.received(), 1)
	entries := h.service.QueuedEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Provider)
}

func TestAnalyticsService_PanickingProviderIsIsolated(t *testing.T) {
	ctx := context.Background()
	a := newRecordingProvider("a")
	a.panics = true
	b := newRecordingProvider("b")
	h := newTestHarness(t, testAnalyticsConfig("a", "b"), []analytics.Provider{a, b})

	assert.NotPanics(t, func() {
		_, ok := h.service.TrackEvent(ctx, analytics.EventTypeFormSubmit, nil, nil, nil)
		assert.True(t, ok)
	})
	assert.Len(t, b.received(), 1)
	assert.Equal(t, 1, h.service.QueueLength())
}

func TestAnalyticsService_ExitEventsNeverRetried(t *testing.T) {
	ctx := context.Background()
	failing := newRecordingProvider("only")
	failing.setFailing(true)
	h := newTestHarness(t, testAnalyticsConfig("only"), []analytics.Provider{failing})

	_, ok := h.service.TrackPageExit(ctx, nil)
	assert.True(t, ok)
	assert.Equal(t, 0, h.service.QueueLength())

	_, ok = h.service.TrackPageView(ctx, "/pricing", nil)
	assert.True(t, ok)
	assert.Equal(t, 0, h.service.QueueLength())
}

func TestAnalyticsService_ProcessEventQueue(t *testing.T) {
	ctx := context.Background()
	a := newRecordingProvider("a")
	a.setFailing(true)
	b := newRecordingProvider("b")
	h := newTestHarness(t, testAnalyticsConfig("a", "b"), []analytics.Provider{a, b})

	id, ok := h.service.TrackEvent(ctx, analytics.EventTypePurchase, nil, nil, nil)
	require.True(t, ok)
	a.setFailing(false)

	report := h.service.ProcessEventQueue(ctx)
	assert.Equal(t, DeliveryReport{Deferred: 1}, report)
	assert.Empty(t, a.received())

	h.clock.Advance(time.Second)
	report = h.service.ProcessEventQueue(ctx)
	assert.Equal(t, DeliveryReport{Delivered: 1}, report)
	assert.Equal(t, 0, h.service.QueueLength())

	require.Len(t, a.received(), 1)
	assert.Equal(t, id, a.received()[0].ID)
	assert.Len(t, b.received(), 1, "redelivery goes only to the failed provider")
}

func TestAnalyticsService_DeferredEntriesKeepTheirPlace(t *testing.T) {
	ctx := context.Background()
	a := newRecordingProvider("a")
	a.setFailing(true)
	h := newTestHarness(t, testAnalyticsConfig("a"), []analytics.Provider{a})

	first, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)
	h.clock.Advance(time.Second)
	second, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)

	report := h.service.ProcessEventQueue(ctx)
	assert.Equal(t, DeliveryReport{Requeued: 1, Deferred: 1}, report)

	entries := h.service.QueuedEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].EventID, "entry that was not due stays ahead")
	assert.Equal(t, first, entries[1].EventID)
	assert.Equal(t, 2, entries[1].Attempts)
}

// mutatingProvider rewrites every event it is handed
type mutatingProvider struct{}

func (mutatingProvider) Name() string                     { return "mutating" }
func (mutatingProvider) Initialize(context.Context) error { return nil }

func (mutatingProvider) Send(_ context.Context, event *analytics.Event) error {
	event.Properties["sku"] = "rewritten"
	event.Dimensions[analytics.DimensionSessionID] = "rewritten"
	return nil
}

func TestAnalyticsService_QueuedEventIsACopy(t *testing.T) {
	ctx := context.Background()
	failing := newRecordingProvider("failing")
	failing.setFailing(true)
	h := newTestHarness(t, testAnalyticsConfig("failing", "mutating"), []analytics.Provider{failing, mutatingProvider{}})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeAddToCart, map[string]interface{}{"sku": "P-1"}, nil, nil)
	require.True(t, ok)

	entries := h.service.queue.Drain()
	require.Len(t, entries, 1)
	queued := entries[0].Event
	sess, _ := h.service.Session()
	assert.Equal(t, "P-1", queued.Properties["sku"], "later providers cannot touch the queued event")
	assert.Equal(t, sess.ID, queued.Dimensions[analytics.DimensionSessionID])
}

func TestAnalyticsService_Flush(t *testing.T) {
	ctx := context.Background()

	t.Run("ignores backoff", func(t *testing.T) {
		a := newRecordingProvider("a")
		a.setFailing(true)
		h := newTestHarness(t, testAnalyticsConfig("a"), []analytics.Provider{a})

		_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
		require.True(t, ok)
		a.setFailing(false)

		report := h.service.Flush(ctx)
		assert.Equal(t, 1, report.Delivered)
		assert.Len(t, a.received(), 1)
	})

	t.Run("drops entries after the last attempt", func(t *testing.T) {
		cfg := testAnalyticsConfig("a")
		cfg.Retry.MaxAttempts = 2
		a := newRecordingProvider("a")
		a.setFailing(true)
		h := newTestHarness(t, cfg, []analytics.Provider{a})

		_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
		require.True(t, ok)

		report := h.service.Flush(ctx)
		assert.Equal(t, DeliveryReport{Exhausted: 1}, report)
		assert.Equal(t, 0, h.service.QueueLength())
	})

	t.Run("failed redelivery is queued again", func(t *testing.T) {
		a := newRecordingProvider("a")
		a.setFailing(true)
		h := newTestHarness(t, testAnalyticsConfig("a"), []analytics.Provider{a})

		_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
		require.True(t, ok)

		report := h.service.Flush(ctx)
		assert.Equal(t, DeliveryReport{Requeued: 1}, report)
		entries := h.service.QueuedEntries()
		require.Len(t, entries, 1)
		assert.Equal(t, 2, entries[0].Attempts)
	})
}

func TestAnalyticsService_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newRecordingProvider("a")
	a.setFailing(true)
	h := newTestHarness(t, testAnalyticsConfig("a"), []analytics.Provider{a})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)
	a.setFailing(false)

	done := make(chan error, 1)
	go func() { done <- h.service.Run(ctx) }()

	// inactivity timer plus the flush ticker
	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 2))

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return h.service.QueueLength() == 0 && len(a.received()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestAnalyticsService_ConsentGate(t *testing.T) {
	ctx := context.Background()
	cfg := testAnalyticsConfig("rec")
	cfg.RequireConsent = true
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, cfg, []analytics.Provider{rec})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.False(t, ok)

	h.service.SetConsentStatus(analytics.ConsentStatus{analytics.ConsentAnalytics: true})
	_, ok = h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.True(t, ok)

	h.service.SetConsentStatus(analytics.ConsentStatus{analytics.ConsentMarketing: true})
	assert.True(t, h.service.ConsentStatus().Granted(analytics.ConsentAnalytics), "consent updates merge")

	h.service.SetConsentStatus(analytics.ConsentStatus{analytics.ConsentAnalytics: false})
	_, ok = h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.False(t, ok)

	assert.Len(t, rec.received(), 1)
	sess, _ := h.service.Session()
	assert.Equal(t, 1, sess.EventCount, "rejected events do not count")
}

func TestAnalyticsService_DefaultConfigConsent(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing tracked without granted consent", func(t *testing.T) {
		rec := newRecordingProvider("rec")
		cfg := config.Default().Analytics
		cfg.Providers = []analytics.ProviderConfig{{Name: "rec", Enabled: true}}
		h := newTestHarness(t, cfg, []analytics.Provider{rec})

		require.NoError(t, h.service.Initialize(ctx, InitOptions{UserID: "u1", ConsentStatus: cfg.ConsentGrants()}))
		_, ok := h.service.TrackPageView(ctx, "/", nil)
		assert.False(t, ok)
		assert.Empty(t, rec.received())
	})

	t.Run("default consent grants analytics", func(t *testing.T) {
		rec := newRecordingProvider("rec")
		cfg := config.Default().Analytics
		cfg.DefaultConsent = []string{"analytics"}
		cfg.Providers = []analytics.ProviderConfig{{Name: "rec", Enabled: true}}
		h := newTestHarness(t, cfg, []analytics.Provider{rec})

		require.NoError(t, h.service.Initialize(ctx, InitOptions{UserID: "u1", ConsentStatus: cfg.ConsentGrants()}))
		_, ok := h.service.TrackPageView(ctx, "/", nil)
		assert.True(t, ok)
		_, ok = h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
		assert.True(t, ok)
		_, ok = h.service.TrackPageExit(ctx, nil)
		assert.True(t, ok)
		assert.Len(t, rec.received(), 3)
	})
}

func TestAnalyticsService_FlagsFollowIdentity(t *testing.T) {
	ctx := context.Background()
	purchaseKey := config.EventTypeFlagKey(analytics.EventTypePurchase)
	clickKey := config.EventTypeFlagKey(analytics.EventTypeClick)

	cfg := testAnalyticsConfig("rec")
	cfg.Flags = []feature.Flag{
		{
			Key:     purchaseKey,
			Enabled: true,
			Value:   false,
			Overrides: []feature.Override{
				{Type: feature.OverrideTypeIdentity, Target: "beta-user", Value: true},
			},
		},
		{
			Key:     clickKey,
			Enabled: true,
			Value:   true,
			Rollout: &feature.RolloutStrategy{Percentage: 50, Sticky: true},
		},
	}
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, cfg, []analytics.Provider{rec})
	require.NoError(t, h.service.Initialize(ctx, InitOptions{}))

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.Equal(t, feature.IsInBucket(h.service.AnonymousID(), clickKey, 50), ok, "anonymous visitors are bucketed by anonymous id")

	_, ok = h.service.TrackEvent(ctx, analytics.EventTypePurchase, nil, nil, nil)
	assert.False(t, ok)

	h.service.SetUserID(ctx, "beta-user")
	_, ok = h.service.TrackEvent(ctx, analytics.EventTypePurchase, nil, nil, nil)
	assert.True(t, ok, "identity override applies once the user is bound")
	_, ok = h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.Equal(t, feature.IsInBucket("beta-user", clickKey, 50), ok)

	h.service.ClearUserID(ctx)
	_, ok = h.service.TrackEvent(ctx, analytics.EventTypePurchase, nil, nil, nil)
	assert.False(t, ok)
}

func TestAnalyticsService_InitializeWithOptions(t *testing.T) {
	ctx := context.Background()
	cfg := testAnalyticsConfig("bound")
	cfg.RequireConsent = true

	bound := &MockBindingProvider{MockProvider: MockProvider{name: "bound"}}
	bound.On("Initialize", mock.Anything).Return(nil).Once()
	bound.On("SetUserID", mock.Anything, "u-1").Return(nil).Once()
	bound.On("Send", mock.Anything, mock.AnythingOfType("*analytics.Event")).Return(nil)
	bound.On("Close", mock.Anything).Return(nil).Maybe()

	h := newTestHarness(t, cfg, []analytics.Provider{bound})
	err := h.service.Initialize(ctx, InitOptions{
		UserID:        "u-1",
		ConsentStatus: analytics.ConsentStatus{analytics.ConsentAnalytics: true},
		DebugMode:     true,
	})
	require.NoError(t, err)
	require.NoError(t, h.service.Initialize(ctx, InitOptions{UserID: "ignored"}))

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeUserLogin, nil, nil, nil)
	require.True(t, ok)

	assert.Equal(t, "u-1", h.service.UserID())
	assert.Equal(t, []string{"bound"}, h.service.LiveProviders())
	bound.AssertExpectations(t)

	sent := bound.Calls[len(bound.Calls)-1].Arguments.Get(1).(*analytics.Event)
	assert.Equal(t, "u-1", sent.UserID)
	assert.Equal(t, "u-1", sent.Dimensions[analytics.DimensionUserID])
}

func TestAnalyticsService_IdentityBinding(t *testing.T) {
	ctx := context.Background()
	bound := &MockBindingProvider{MockProvider: MockProvider{name: "bound"}}
	bound.On("Initialize", mock.Anything).Return(nil)
	bound.On("SetUserID", mock.Anything, "u-9").Return(nil).Once()
	bound.On("SetUserID", mock.Anything, "").Return(errors.New("not supported")).Once()
	bound.On("Close", mock.Anything).Return(nil).Maybe()

	h := newTestHarness(t, testAnalyticsConfig("bound"), []analytics.Provider{bound})
	require.NoError(t, h.service.Initialize(ctx, InitOptions{}))

	h.service.SetUserID(ctx, "u-9")
	assert.Equal(t, "u-9", h.service.UserID())

	h.service.ClearUserID(ctx)
	assert.Empty(t, h.service.UserID())
	bound.AssertExpectations(t)
}

func TestAnalyticsService_ConcurrentLazyInitialize(t *testing.T) {
	ctx := context.Background()
	p := NewMockProvider("p")
	p.On("Initialize", mock.Anything).Return(nil).Once()
	p.On("Send", mock.Anything, mock.Anything).Return(nil)
	h := newTestHarness(t, testAnalyticsConfig("p"), []analytics.Provider{p})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.True(t, h.service.Initialized())
	p.AssertNumberOfCalls(t, "Initialize", 1)
	p.AssertNumberOfCalls(t, "Send", 20)

	sess, _ := h.service.Session()
	assert.Equal(t, 20, sess.EventCount)
}

func TestAnalyticsService_ProviderInitFailureIsExcluded(t *testing.T) {
	ctx := context.Background()
	broken := NewMockProvider("broken")
	broken.On("Initialize", mock.Anything).Return(errors.New("script blocked"))
	rec := newRecordingProvider("rec")

	cfg := testAnalyticsConfig("broken", "rec", "unregistered")
	cfg.Providers = append(cfg.Providers, analytics.ProviderConfig{Name: "disabled", Enabled: false})
	h := newTestHarness(t, cfg, []analytics.Provider{broken, rec})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)

	assert.Equal(t, []string{"rec"}, h.service.LiveProviders())
	assert.Len(t, rec.received(), 1)
	assert.Equal(t, 0, h.service.QueueLength())
	broken.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestAnalyticsService_EventTypeAllowList(t *testing.T) {
	ctx := context.Background()
	cfg := testAnalyticsConfig("rec")
	cfg.EnabledEventTypes = []string{"click"}
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, cfg, []analytics.Provider{rec})

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypePurchase, nil, nil, nil)
	assert.False(t, ok)
	_, ok = h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.True(t, ok)

	sess, _ := h.service.Session()
	assert.Equal(t, 1, sess.EventCount)
}

func TestAnalyticsService_SampledOutEventsCount(t *testing.T) {
	ctx := context.Background()
	cfg := testAnalyticsConfig("rec")
	cfg.SamplingRate = 0
	cfg.MaxEventsPerSession = 2
	rec := newRecordingProvider("rec")
	reg := prometheus.NewRegistry()
	h := newTestHarness(t, cfg, []analytics.Provider{rec}, WithRegisterer(reg))

	for i := 0; i < 3; i++ {
		_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
		assert.False(t, ok)
	}

	sess, _ := h.service.Session()
	assert.Equal(t, 2, sess.EventCount)
	assert.Empty(t, rec.received())
	assert.Equal(t, float64(2), testutil.ToFloat64(h.service.metrics.EventsDropped.WithLabelValues(DropReasonSampledOut)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.service.metrics.EventsDropped.WithLabelValues(DropReasonSessionCap)))
}

func TestAnalyticsService_MetricsRegistered(t *testing.T) {
	ctx := context.Background()
	a := newRecordingProvider("a")
	a.setFailing(true)
	reg := prometheus.NewRegistry()
	h := newTestHarness(t, testAnalyticsConfig("a"), []analytics.Provider{a}, WithRegisterer(reg))

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.service.metrics.EventsTracked.WithLabelValues("click")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.service.metrics.ProviderSends.WithLabelValues("a", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.service.metrics.QueueLength))

	count, err := testutil.GatherAndCount(reg, "tracker_retry_enqueued_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type fakeNavigator struct {
	mu       sync.Mutex
	listener analytics.NavigationListener
}

func (n *fakeNavigator) Subscribe(l analytics.NavigationListener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = l
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.listener = nil
	}
}

func (n *fakeNavigator) current() analytics.NavigationListener {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listener
}

func TestAnalyticsService_NavigationSubscription(t *testing.T) {
	ctx := context.Background()
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, testAnalyticsConfig("rec"), []analytics.Provider{rec})
	nav := &fakeNavigator{}
	h.service.Subscribe(nav)
	require.NotNil(t, nav.current())

	nav.current().HandleLocationChange(ctx, "/blog")
	nav.current().HandleLocationChange(ctx, "/blog")
	require.Len(t, rec.received(), 1, "repeated path is ignored")

	view := rec.last(t)
	assert.Equal(t, analytics.EventTypePageView, view.Type)
	assert.Equal(t, "/blog", view.Properties["path"])
	assert.Equal(t, "/blog", view.Dimensions[analytics.DimensionPagePath])
	assert.Equal(t, "https://example.com/blog", view.Dimensions[analytics.DimensionPageURL])
	assert.Equal(t, "https://example.com/", view.Dimensions[analytics.DimensionReferrer])

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	require.True(t, ok)
	assert.Equal(t, "/blog", rec.last(t).Dimensions[analytics.DimensionPagePath], "later events stay on the followed page")

	h.clock.Advance(5 * time.Second)
	nav.current().HandlePageExit(ctx)

	exit := rec.last(t)
	assert.Equal(t, analytics.EventTypePageExit, exit.Type)
	assert.Equal(t, "/blog", exit.Properties["path"])
	assert.Equal(t, float64(5000), exit.Metrics[analytics.MetricTimeOnPage])

	require.NoError(t, h.service.Close(ctx))
	assert.Nil(t, nav.current())
}

func TestAnalyticsService_TrackPageView(t *testing.T) {
	ctx := context.Background()
	rec := newRecordingProvider("rec")
	h := newTestHarness(t, testAnalyticsConfig("rec"), []analytics.Provider{rec})

	_, ok := h.service.TrackPageView(ctx, "/a", map[string]interface{}{"section": "docs"})
	require.True(t, ok)
	_, ok = h.service.TrackPageView(ctx, "/b", nil)
	require.True(t, ok)

	sess, _ := h.service.Session()
	assert.Equal(t, "/b", sess.CurrentPath)
	assert.Equal(t, "/a", sess.PreviousPath)
	assert.Equal(t, 2, sess.PageViewCount)

	first := rec.received()[0]
	assert.Equal(t, map[string]interface{}{"path": "/a", "section": "docs"}, first.Properties)
	assert.Equal(t, 1, first.Dimensions[analytics.DimensionSessionPageCount])
}

func TestAnalyticsService_AnonymousIDIsDurable(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, testAnalyticsConfig(), nil)
	require.NoError(t, h.service.Initialize(ctx, InitOptions{}))

	anon := h.service.AnonymousID()
	require.NotEmpty(t, anon)

	stored, ok, err := h.storage.Get(ctx, session.ScopeDurable, session.KeyAnonymousID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, anon, stored)

	second := NewAnalyticsService(newConfigProvider(t, testAnalyticsConfig(), h.clock), h.storage, WithClock(h.clock))
	defer second.Close(ctx)
	require.NoError(t, second.Initialize(ctx, InitOptions{}))
	assert.Equal(t, anon, second.AnonymousID())
}

type recordingJourneys struct {
	mu     sync.Mutex
	events []string
}

func (j *recordingJourneys) Update(_ context.Context, e *analytics.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e.ID)
}

func TestAnalyticsService_JourneyHook(t *testing.T) {
	ctx := context.Background()
	journeys := &recordingJourneys{}
	h := newTestHarness(t, testAnalyticsConfig(), nil, WithJourneyTracker(journeys))

	id, ok := h.service.TrackEvent(ctx, analytics.EventTypeConsultationRequest, nil, nil, nil)
	require.True(t, ok)
	assert.Equal(t, []string{id}, journeys.events)
}

func TestAnalyticsService_Close(t *testing.T) {
	ctx := context.Background()
	bound := &MockBindingProvider{MockProvider: MockProvider{name: "bound"}}
	bound.On("Initialize", mock.Anything).Return(nil)
	bound.On("Close", mock.Anything).Return(errors.New("connection reset")).Once()

	h := newTestHarness(t, testAnalyticsConfig("bound"), []analytics.Provider{bound})
	require.NoError(t, h.service.Initialize(ctx, InitOptions{}))

	err := h.service.Close(ctx)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, h.service.Close(ctx), "second close is a no-op")

	_, ok := h.service.TrackEvent(ctx, analytics.EventTypeClick, nil, nil, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, h.service.Initialize(ctx, InitOptions{}), analytics.ErrServiceClosed)
	bound.AssertExpectations(t)
}
