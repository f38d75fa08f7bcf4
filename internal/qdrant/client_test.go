package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClientConfig_ApplyDefaults(t *testing.T) {
	cfg := &ClientConfig{Host: "qdrant.internal"}
	cfg.ApplyDefaults()

	assert.Equal(t, "qdrant.internal", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, uint(3), cfg.RetryAttempts)
	assert.Equal(t, qdrant.Distance_Cosine, cfg.Distance)
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr string
	}{
		{name: "valid", cfg: ClientConfig{Host: "localhost", Port: 6334, MaxMessageSize: 1}},
		{name: "no host", cfg: ClientConfig{Port: 6334, MaxMessageSize: 1}, wantErr: "host is required"},
		{name: "bad port", cfg: ClientConfig{Host: "h", Port: 70000, MaxMessageSize: 1}, wantErr: "invalid port"},
		{name: "bad size", cfg: ClientConfig{Host: "h", Port: 1}, wantErr: "invalid max message size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.QdrantConfig{Host: "db", Port: 7000, UseTLS: true, APIKey: config.Secret("k")})
	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, 7000, cfg.Port)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, DefaultClientConfig().RequestTimeout, cfg.RequestTimeout)
}

func TestNewGRPCClient_Errors(t *testing.T) {
	_, err := NewGRPCClient(nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	_, err = NewGRPCClient(&ClientConfig{Host: "localhost", Port: -1}, zap.NewNop())
	assert.ErrorContains(t, err, "invalid config")
}

func TestToQdrantPoint(t *testing.T) {
	p := toQdrantPoint(&Point{
		ID:     "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Vector: []float32{0.1, 0.2},
		Payload: map[string]interface{}{
			"path":  "src/app.py",
			"size":  42,
			"score": 0.5,
			"big":   int64(7),
			"ok":    true,
			"other": []int{1},
		},
	})

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", p.GetId().GetUuid())
	assert.Equal(t, "src/app.py", p.Payload["path"].GetStringValue())
	assert.Equal(t, int64(42), p.Payload["size"].GetIntegerValue())
	assert.Equal(t, int64(7), p.Payload["big"].GetIntegerValue())
	assert.Equal(t, 0.5, p.Payload["score"].GetDoubleValue())
	assert.True(t, p.Payload["ok"].GetBoolValue())
	assert.Equal(t, "[1]", p.Payload["other"].GetStringValue())
}

func TestFromQdrantScoredPoint(t *testing.T) {
	sp := fromQdrantScoredPoint(&qdrant.ScoredPoint{
		Id:    qdrant.NewIDNum(9),
		Score: 0.75,
		Payload: map[string]*qdrant.Value{
			"content": {Kind: &qdrant.Value_StringValue{StringValue: "print(1)"}},
			"n":       {Kind: &qdrant.Value_IntegerValue{IntegerValue: 3}},
			"null":    {Kind: &qdrant.Value_NullValue{}},
		},
	})
	assert.Equal(t, "9", sp.ID)
	assert.Equal(t, float32(0.75), sp.Score)
	assert.Equal(t, "print(1)", sp.Payload["content"])
	assert.Equal(t, int64(3), sp.Payload["n"])
	assert.Nil(t, sp.Payload["null"])

	assert.Equal(t, "", pointID(nil))
	assert.Nil(t, payloadMap(nil))
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, isTransientError(nil))
	assert.False(t, isTransientError(errors.New("plain")))
	assert.True(t, isTransientError(status.Error(codes.Unavailable, "down")))
	assert.True(t, isTransientError(status.Error(codes.ResourceExhausted, "busy")))
	assert.False(t, isTransientError(status.Error(codes.NotFound, "missing")))
	assert.False(t, isTransientError(status.Error(codes.InvalidArgument, "bad")))
}

func newRetryClient(t *testing.T) (*GRPCClient, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultClientConfig()
	cfg.RetryAttempts = 2
	return &GRPCClient{
		config:     cfg,
		logger:     zap.New(core),
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, logs
}

func TestRetry_RecoversFromTransientError(t *testing.T) {
	c, logs := newRetryClient(t)
	calls := 0
	err := c.retry(context.Background(), "upsert", func() error {
		calls++
		if calls == 1 {
			return status.Error(codes.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, logs.FilterMessage("qdrant operation recovered after retries").Len())
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	c, _ := newRetryClient(t)
	calls := 0
	err := c.retry(context.Background(), "search", func() error {
		calls++
		return status.Error(codes.NotFound, "no collection")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "qdrant search")
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	c, logs := newRetryClient(t)
	calls := 0
	err := c.retry(context.Background(), "upsert", func() error {
		calls++
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, logs.FilterMessage("qdrant operation failed after retries").Len())
}
