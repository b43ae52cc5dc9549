package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,, broken, =nokey,x-team=estate")
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "estate",
	}, headers)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	_, err = Init(context.Background(), Config{ServiceName: "svc", SampleRatio: -1})
	require.Error(t, err)
}

func TestInitWithoutSignalsIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "estate-gateway"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "k=v")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "TRUE")

	cfg := Config{ServiceName: "svc"}.FromEnv()
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.Equal(t, map[string]string{"k": "v"}, cfg.Headers)
	require.True(t, cfg.Insecure)

	cfg = Config{Endpoint: "explicit:4318"}.FromEnv()
	require.Equal(t, "explicit:4318", cfg.Endpoint)
}
