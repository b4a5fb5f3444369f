package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/Rainnny7/LicenseServer/internal/config"
	"github.com/Rainnny7/LicenseServer/internal/database"
	"github.com/Rainnny7/LicenseServer/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recordingSink) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestDispatcherFilters(t *testing.T) {
	cfg := config.Default().Notify
	cfg.Uses = false

	all := &recordingSink{}
	flagged := &recordingSink{err: errors.New("boom")}

	d := NewDispatcher(16, nil)
	d.Add("all", all, nil)
	d.Add("flagged", flagged, FlagsFromConfig(cfg))
	d.Start()

	for _, typ := range []EventType{EventUsed, EventExpired, EventOwnerNewIP, EventIPLimit} {
		require.NoError(t, d.Notify(context.Background(), NewEvent(typ, "Example")))
	}
	require.NoError(t, d.Close())

	assert.Equal(t, []EventType{EventUsed, EventExpired, EventOwnerNewIP, EventIPLimit}, all.types())
	assert.Equal(t, []EventType{EventExpired, EventIPLimit}, flagged.types())
	assert.True(t, all.closed)

	// 关闭后的事件直接忽略
	assert.NoError(t, d.Notify(context.Background(), NewEvent(EventUsed, "Example")))
	assert.NoError(t, d.Close())
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.Add("sink", &recordingSink{}, nil)

	require.NoError(t, d.Notify(context.Background(), NewEvent(EventUsed, "Example")))
	assert.ErrorIs(t, d.Notify(context.Background(), NewEvent(EventUsed, "Example")), ErrQueueFull)

	// 未启动的 dispatcher 在关闭时仍会投递剩余事件
	require.NoError(t, d.Close())
}

func TestAuditNotifier(t *testing.T) {
	db := database.InitTestDB()
	defer database.CleanTestDB(db)

	e := NewEvent(EventHWIDLimit, "Example")
	e.KeyHash = "hash"
	e.IPHash = "ip-hash"
	e.HWID = "A-B-C-D"
	require.NoError(t, NewAuditNotifier(db).Notify(context.Background(), e))

	var usages []model.LicenseUsage
	require.NoError(t, db.Find(&usages).Error)
	require.Len(t, usages, 1)
	assert.Equal(t, "license.hwid_limit", usages[0].Action)
	assert.Equal(t, "hash", usages[0].KeyHash)
	assert.Equal(t, "ip-hash", usages[0].IPHash)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifier(t *testing.T) {
	_, err := NewKafkaNotifier(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaNotifier([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w, topic: "license-events"}

	e := NewEvent(EventUsed, "Example")
	e.Key = "ABCD-1234**********"
	e.KeyHash = "secret-hash"
	require.NoError(t, n.Notify(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "license-events", msg.Topic)
	assert.Equal(t, []byte("Example"), msg.Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "license.used", decoded["type"])
	assert.Equal(t, "ABCD-1234**********", decoded["key"])
	assert.NotContains(t, string(msg.Value), "secret-hash")
}

func TestSheetsNotifier(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	n, err := newSheetsNotifier(context.Background(), "sheet-id", "Usage",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	e := NewEvent(EventUsed, "Example")
	e.Key = "ABCD-1234**********"
	require.NoError(t, n.Notify(context.Background(), e))

	assert.True(t, strings.Contains(gotPath, "sheet-id"))
	assert.True(t, strings.HasSuffix(gotPath, ":append"))
	rows, ok := gotBody["values"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].([]any)
	assert.Equal(t, "license.used", row[1])
	assert.Equal(t, "Example", row[2])
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), NewEvent(EventUsed, "Example")))
}
