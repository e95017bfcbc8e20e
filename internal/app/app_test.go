package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/handoff"
	"flight-price-alerts/internal/pipeline"
	"flight-price-alerts/internal/storage"
	"flight-price-alerts/internal/storage/memory"
)

const upstreamPayload = `{"data":{"everywhereDestination":{"results":[
  {"id":"location-29475373","skyId":"TEST","content":{
    "location":{"id":"29475373","skyCode":"TEST","name":"TEST"},
    "flightQuotes":{"cheapest":{"price":"$34","rawPrice":34.0,"direct":true},"direct":{"price":"$34","rawPrice":34.0,"direct":true}}}}
]}}}`

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 30 * time.Minute, MaxActiveRuns: 3},
		Pipeline:  config.PipelineConfig{MinCount: 30, MaxLocations: 1000},
		Upstream:  config.UpstreamConfig{Timeout: 2 * time.Second},
		Store:     config.StoreConfig{Driver: config.DriverMemory, Index: "flight_prices"},
		Alerting:  config.AlertingConfig{Subject: "Price Alert for Cheap Tickets"},
		Handoff:   config.HandoffConfig{Driver: config.DriverMemory},
		Export:    config.ExportConfig{MaxDataPoints: 1000},
	}
}

func newTestApp(t *testing.T, store storage.HistoryStore) (*App, *bytes.Buffer) {
	t.Helper()
	a := NewApp(testConfig(), zerolog.Nop())
	out := &bytes.Buffer{}
	a.Out = out
	a.storeFactory = func(context.Context) (storage.HistoryStore, error) { return store, nil }
	a.now = func() time.Time { return time.Date(2025, 3, 1, 10, 30, 0, 0, time.Local) }
	return a, out
}

func seed(t *testing.T, store *memory.Store, location string, prices ...float64) {
	t.Helper()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.Local)
	records := make([]domain.NormalizedRecord, 0, len(prices))
	for i, p := range prices {
		records = append(records, domain.NormalizedRecord{
			SkyID:         location,
			Location:      location,
			CheapestPrice: p,
			Timestamp:     domain.FormatTimestamp(base.Add(time.Duration(i) * time.Hour)),
		})
	}
	require.NoError(t, store.IndexRecords(context.Background(), records))
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type telegramRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *telegramRecorder) handler(w http.ResponseWriter, req *http.Request) {
	var payload map[string]string
	_ = json.NewDecoder(req.Body).Decode(&payload)
	r.mu.Lock()
	r.texts = append(r.texts, payload["text"])
	r.mu.Unlock()
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func TestRunOnceSendsAlertThroughConfiguredChannel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, upstreamPayload)
	}))
	defer upstream.Close()

	recorder := &telegramRecorder{}
	telegram := httptest.NewServer(http.HandlerFunc(recorder.handler))
	defer telegram.Close()

	store := memory.NewStore()
	seed(t, store, "TEST", repeat(100, 30)...)

	a, out := newTestApp(t, store)
	a.Config.Upstream.URL = upstream.URL
	a.Config.Alerting.Enabled = true
	a.Config.Alerting.Channels = []string{config.ChannelTelegram}
	a.Config.Alerting.Telegram = config.TelegramConfig{BotToken: "token", ChatID: "42", APIBase: telegram.URL}
	slots := handoff.NewMemoryStore(time.Hour)
	a.handoffOverride = slots

	run, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, run.Status)
	assert.Equal(t, 31, store.Len())

	require.Len(t, recorder.texts, 1)
	assert.True(t, strings.HasPrefix(recorder.texts[0], "Price Alert for Cheap Tickets\n\n"))
	assert.Contains(t, recorder.texts[0], "Location: TEST, Cheapest Price: $34.00, Average Price: $100.00")

	assert.Contains(t, out.String(), "run "+run.ID+": success")
	assert.Contains(t, out.String(), "send_email")

	out.Reset()
	require.NoError(t, a.RunsShow(context.Background(), run.ID))
	assert.Contains(t, out.String(), "== generate_email_content/return_value")
	assert.Contains(t, out.String(), "== run/summary")
}

func TestRunOnceReportsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	store := memory.NewStore()
	a, out := newTestApp(t, store)
	a.Config.Upstream.URL = upstream.URL

	run, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamFetch)
	assert.Equal(t, pipeline.StatusFailed, run.Status)
	assert.Contains(t, out.String(), "upstream_failed")
	assert.Equal(t, 0, store.Len())
}

func TestRunsShowUnknownRun(t *testing.T) {
	a, _ := newTestApp(t, memory.NewStore())
	a.handoffOverride = handoff.NewMemoryStore(time.Hour)

	err := a.RunsShow(context.Background(), "missing")
	assert.ErrorContains(t, err, "no hand-off slots recorded")
}

func TestShowPrintsBaselineWithThreshold(t *testing.T) {
	store := memory.NewStore()
	var denmark []float64
	for i := 0; i < 4; i++ {
		denmark = append(denmark, 2, 4, 4, 4, 5, 5, 7, 9)
	}
	seed(t, store, "Denmark", denmark...)
	seed(t, store, "Sparse", repeat(10, 5)...)

	a, out := newTestApp(t, store)
	require.NoError(t, a.Show(context.Background(), ShowOptions{Limit: 10}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"Location", "Average", "Std", "Dev", "Alert", "Below"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"Denmark", "5.00", "2.00", "4.50"}, strings.Fields(lines[1]))
}

func TestShowWithoutEnoughHistory(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "TEST", 1, 2, 3)

	a, out := newTestApp(t, store)
	require.NoError(t, a.Show(context.Background(), ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "no location has 30 or more observations yet")
}

func TestExportCSVFiltersWindowAndLocation(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "TEST", 10, 20, 30, 40)
	seed(t, store, "Other", 99)

	a, _ := newTestApp(t, store)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "nested", "test.csv")

	from := time.Date(2025, 2, 1, 1, 0, 0, 0, time.Local)
	to := time.Date(2025, 2, 1, 3, 0, 0, 0, time.Local)
	require.NoError(t, a.Export(context.Background(), ExportOptions{
		Location: "TEST",
		From:     &from,
		To:       &to,
		CSVPath:  csvPath,
	}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"timestamp", "location", "sky_id", "cheapest_price"}, rows[0])
	assert.Equal(t, []string{"2025-02-01T01:00:00.000000", "TEST", "TEST", "20"}, rows[1])
	assert.Equal(t, []string{"2025-02-01T02:00:00.000000", "TEST", "TEST", "30"}, rows[2])
}

func TestExportReachesRecentWindowBeyondStoreCap(t *testing.T) {
	store := memory.NewStore()
	store.LimitResults(5)
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	seed(t, store, "TEST", prices...)

	a, out := newTestApp(t, store)
	csvPath := filepath.Join(t.TempDir(), "recent.csv")
	from := time.Date(2025, 2, 1, 17, 0, 0, 0, time.Local)
	require.NoError(t, a.Export(context.Background(), ExportOptions{Location: "TEST", From: &from, CSVPath: csvPath}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, "117", rows[1][3])
	assert.Equal(t, "119", rows[3][3])
	assert.NotContains(t, out.String(), "warning")
}

func TestExportWarnsWhenWindowExceedsStoreCap(t *testing.T) {
	store := memory.NewStore()
	store.LimitResults(5)
	seed(t, store, "TEST", repeat(50, 8)...)

	a, out := newTestApp(t, store)
	csvPath := filepath.Join(t.TempDir(), "all.csv")
	require.NoError(t, a.Export(context.Background(), ExportOptions{Location: "TEST", CSVPath: csvPath}))

	assert.Contains(t, out.String(), "warning: export truncated to the oldest 5 observations")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestExportPNG(t *testing.T) {
	store := memory.NewStore()
	prices := make([]float64, 0, 40)
	for i := 0; i < 40; i++ {
		prices = append(prices, 80+float64(i%7)*5)
	}
	seed(t, store, "TEST", prices...)
	seed(t, store, "Other", 120, 140, 130)

	a, _ := newTestApp(t, store)
	pngPath := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{PNGPath: pngPath, MaxPoints: 100}))

	data, err := os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected PNG header")
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := newTestApp(t, memory.NewStore())
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))

	from := time.Now()
	to := from.Add(-time.Hour)
	assert.ErrorContains(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv", From: &from, To: &to}), "from must be before to")
}

func TestDownsampleObservationsKeepsEnds(t *testing.T) {
	obs := make([]observation, 10)
	for i := range obs {
		obs[i] = observation{NormalizedRecord: domain.NormalizedRecord{CheapestPrice: float64(i)}}
	}

	got := downsampleObservations(obs, 4)
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[0].CheapestPrice)
	assert.Equal(t, 9.0, got[3].CheapestPrice)

	assert.Len(t, downsampleObservations(obs, 0), 10)
	assert.Len(t, downsampleObservations(obs, 20), 10)
	assert.Equal(t, 9.0, downsampleObservations(obs, 1)[0].CheapestPrice)
}

func TestSimulateAlertDryRun(t *testing.T) {
	a, out := newTestApp(t, memory.NewStore())

	err := a.SimulateAlert(context.Background(), SimulateOptions{Location: "New York", Price: 34, Average: 100, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t,
		"Subject: Price Alert for Cheap Tickets\n\n"+
			"The following locations have flight deals:\n\n"+
			"Location: New_York, Cheapest Price: $34.00, Average Price: $100.00\n",
		out.String())
}

func TestSimulateAlertNeedsChannels(t *testing.T) {
	a, _ := newTestApp(t, memory.NewStore())
	a.Config.Alerting.Enabled = true

	err := a.SimulateAlert(context.Background(), SimulateOptions{Location: "TEST", Price: 1, Average: 2})
	assert.ErrorContains(t, err, "no alert channels configured")

	a.Config.Alerting.Enabled = false
	err = a.SimulateAlert(context.Background(), SimulateOptions{Location: "TEST", Price: 1, Average: 2})
	assert.ErrorContains(t, err, "alerting is disabled")
}

func TestIndexLifecycle(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "TEST", 1)
	a, out := newTestApp(t, store)
	ctx := context.Background()

	exists, err := a.IndexStatus(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "flight_prices (memory): exists=true\n", out.String())

	require.NoError(t, a.IndexDelete(ctx))
	exists, err = a.IndexStatus(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, store.Len())

	require.NoError(t, a.IndexCreate(ctx))
	exists, err = a.IndexStatus(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	a.Config.Store.Driver = "sqlite"

	_, _, err := a.openStore(context.Background())
	assert.EqualError(t, err, fmt.Sprintf("store.driver %q is not supported", "sqlite"))
}

func TestOpenHandoffMemoryDefault(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	slots, err := a.openHandoff(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &handoff.MemoryStore{}, slots)
}
