package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := new(MockWriter)
	p := &KafkaPublisher{writer: w}
	entry := models.LedgerEntry{ID: "01J", UserID: "u1", Type: models.EntryDebit, Amount: 30000}

	w.On("WriteMessages", mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != "u1" {
			return false
		}
		var m EntryMessage
		if err := json.Unmarshal(msgs[0].Value, &m); err != nil {
			return false
		}
		return m.Entry.ID == "01J" && m.Event == "ledger_entry_appended"
	})).Return(nil)

	require.NoError(t, p.Publish(context.Background(), entry))
	w.AssertExpectations(t)
}

func TestNewKafkaPublisher_WritesAsync(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "", zap.NewNop())
	defer p.Close()

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.True(t, w.Async)
	assert.NotNil(t, w.Completion)
	assert.Equal(t, DefaultTopic, w.Topic)
}

func TestKafkaPublisher_CompletionCountsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := &KafkaPublisher{logger: zap.New(core)}
	before := testutil.ToFloat64(metrics.EventPublishErrors)

	p.completed([]kafka.Message{{Key: []byte("u1")}, {Key: []byte("u2")}}, errors.New("broker down"))
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.EventPublishErrors))
	assert.Equal(t, 2, logs.FilterMessage("failed to deliver ledger entry").Len())

	p.completed([]kafka.Message{{Key: []byte("u3")}}, nil)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.EventPublishErrors))
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(ctx context.Context, e models.LedgerEntry) error {
	f.calls++
	return errors.New("broker down")
}

func TestDispatcher_PublishFailureIsSwallowed(t *testing.T) {
	pub := &failingPublisher{}
	d := NewDispatcher(pub, nil, zap.NewNop())

	assert.NotPanics(t, func() {
		d.EntryAppended(context.Background(), models.LedgerEntry{ID: "x", UserID: "u1"})
	})
	assert.Equal(t, 1, pub.calls)
}

func TestHub_DeliversToOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	d := NewDispatcher(nil, hub, zap.NewNop())
	entry := models.LedgerEntry{ID: "e1", UserID: "u1", Type: models.EntryCredit, Amount: 20000, BalanceAfter: 70000}

	// Registration completes asynchronously after the upgrade, so keep
	// notifying until the first message lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.EntryAppended(ctx, entry)
			}
		}
	}()

	var msg Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "balance_update", msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "e1", data["entryId"])
	assert.Equal(t, 700.0, data["balance"])
}
