package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Writer = &buf
	cfg.Sampling.Enabled = false
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	return logger, &buf
}

func TestRedaction_SensitiveKeys(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.Info(context.Background(), "calling provider",
		zap.String("api_key", "sk-very-secret"),
		zap.String("Authorization", "Basic Zm9vOmJhcg=="),
		zap.String("model", "gpt-4o"))

	out := buf.String()
	assert.NotContains(t, out, "sk-very-secret")
	assert.NotContains(t, out, "Zm9vOmJhcg==")
	assert.Contains(t, out, `"model":"gpt-4o"`)
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
}

func TestRedaction_PatternsInValuesAndMessages(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.Warn(context.Background(), "retrying with Bearer abc.def.ghi",
		zap.String("diagnostic", "env dump: OPENAI_API_KEY=sk-proj-abcdefghijklmnopqrstuvwxyz"))

	out := buf.String()
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "abcdefghijklmnopqrstuvwxyz")
	assert.Contains(t, out, "retrying with [REDACTED]")
	assert.Contains(t, out, "env dump:")
}

func TestRedaction_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.With(zap.String("token", "t0ps3cret")).Info(context.Background(), "child")

	assert.NotContains(t, buf.String(), "t0ps3cret")
}

func TestRedaction_Disabled(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), RedactionConfig{Enabled: false})
	require.NoError(t, err)

	zl := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))
	zl.Info("plain", zap.String("token", "visible"))

	assert.Contains(t, buf.String(), "visible")
}

func TestNewRedactingEncoder_RejectsBadPatterns(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"[unclosed"}})
	assert.Error(t, err)

	long := make([]byte, maxPatternLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{string(long)}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "configured", Secret("key", config.Secret("sk-123456")))

	entries := tl.FilterMessage("configured").All()
	require.Len(t, entries, 1)
	obj, ok := entries[0].ContextMap()["key"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED:9]", obj["key"])
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("authorization", "Bearer xyz")
	assert.Equal(t, "[REDACTED:10]", f.String)
}
