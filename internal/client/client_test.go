package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"walletpass-service/internal/model"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, logger: zaptest.NewLogger(t)}

	event := model.PassEvent{
		Type:       model.EventPassDownloaded,
		PassID:     "pass-1",
		ArtistID:   "aurora-waves",
		Platform:   model.PlatformGoogle,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, []byte("pass-1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("pass.downloaded"), msg.Headers[0].Value)

	var decoded model.PassEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaProducer_PublishError(t *testing.T) {
	p := &KafkaProducer{writer: &fakeWriter{err: errors.New("broker down")}, logger: zaptest.NewLogger(t)}

	err := p.Publish(context.Background(), model.PassEvent{Type: model.EventPassInitiated, PassID: "p"})
	assert.ErrorContains(t, err, "broker down")
}

type fakeConn struct {
	queries [][]any
	err     error
}

func (f *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	if f.err != nil {
		return f.err
	}
	f.queries = append(f.queries, append([]any{query}, args...))
	return nil
}

func (f *fakeConn) Ping(ctx context.Context) error { return f.err }
func (f *fakeConn) Close() error                   { return nil }

func TestClickHouseClient_RecordDetection(t *testing.T) {
	conn := &fakeConn{}
	c := &ClickHouseClient{conn: conn, logger: zaptest.NewLogger(t)}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, c.EnsureSchema(context.Background()))
	require.NoError(t, c.RecordDetection(context.Background(), model.DetectionRecord{
		PassID: "pass-1",
		Result: model.DetectionResult{
			Platform:   model.PlatformApple,
			Method:     model.MethodHeuristic,
			Confidence: 0.6,
			Source:     "generic mobile",
		},
		LowConfidence: true,
		RecordedAt:    at,
	}))

	require.Len(t, conn.queries, 2)
	assert.Contains(t, conn.queries[0][0], "CREATE TABLE IF NOT EXISTS platform_detections")
	assert.Equal(t, []any{insertDetection, at, "pass-1", "apple", "heuristic", 0.6, "generic mobile", uint8(1)}, conn.queries[1])
}

func TestClickHouseClient_Errors(t *testing.T) {
	c := &ClickHouseClient{conn: &fakeConn{err: errors.New("down")}, logger: zaptest.NewLogger(t)}

	assert.Error(t, c.RecordDetection(context.Background(), model.DetectionRecord{PassID: "p"}))
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestExtractHostPort(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"clickhouse://localhost:9000", "localhost:9000"},
		{"tcp://ch.internal", "ch.internal:9000"},
		{"https://ch.example.com", "ch.example.com:9440"},
		{"http://10.0.0.5:9001/", "10.0.0.5:9001"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHostPort(tt.url))
		})
	}
	assert.Equal(t, "ch.example.com", extractHostname("https://ch.example.com"))
}

func TestRedisClient_WatchRetriesOnConflict(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c := NewRedisClientFrom(rdb)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.HealthCheck(ctx))

	calls := 0
	err := c.Watch(ctx, 3, func(tx *goredis.Tx) error {
		calls++
		if calls == 1 {
			// a concurrent writer touches the watched key
			require.NoError(t, rdb.Set(ctx, "counter", "x", 0).Err())
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Incr(ctx, "attempts")
			return nil
		})
		return err
	}, "counter")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	v, err := rdb.Get(ctx, "attempts").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestLogFallbacks(t *testing.T) {
	logger := zaptest.NewLogger(t)
	assert.NoError(t, NewLogPublisher(logger).Publish(context.Background(), model.PassEvent{PassID: "p"}))
	assert.NoError(t, NewLogRecorder(logger).RecordDetection(context.Background(), model.DetectionRecord{PassID: "p"}))
}
