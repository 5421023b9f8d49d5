package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/internal/config"
	"llmrelay/internal/provider"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.GeneralConfig{LogLevel: "warn", LogFormat: "text"}, &buf)
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.GeneralConfig{LogLevel: "debug", LogFormat: "json"}, &buf)
	log.Debug("hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.GeneralConfig{LogLevel: "loud"}, &buf)
	log.Debug("dbg")
	log.Info("inf")
	assert.NotContains(t, buf.String(), "dbg")
	assert.Contains(t, buf.String(), "inf")
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit("/usr/local/bin/llmrelay", "/etc/llmrelay.yaml", "/srv/llmrelay")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/llmrelay run --config /etc/llmrelay.yaml\n")
	assert.Contains(t, unit, "WorkingDirectory=/srv/llmrelay\n")
	assert.NotContains(t, unit, "{{")
}

func TestRenderUnit_NoConfig(t *testing.T) {
	unit := renderUnit("/bin/llmrelay", "", "/tmp")
	assert.Contains(t, unit, "ExecStart=/bin/llmrelay run\n")
	assert.NotContains(t, unit, "--config")
}

func TestMetricsMux(t *testing.T) {
	srv := httptest.NewServer(metricsMux("/metrics"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "llmrelay_messages_total")

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestResolveConfigPath(t *testing.T) {
	old := configPath
	t.Cleanup(func() { configPath = old })

	configPath = ""
	t.Setenv(config.EnvConfigPath, "/from/env.yaml")
	assert.Equal(t, "/from/env.yaml", resolveConfigPath())

	configPath = "/from/flag.json"
	assert.Equal(t, "/from/flag.json", resolveConfigPath())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "llmrelay "+version+"\n", out.String())
}

func TestCheckOllama_ShortDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	o := provider.NewOllama(provider.OllamaConfig{Endpoint: srv.URL + "/api/generate", Model: "m", Timeout: time.Minute})

	start := time.Now()
	err := checkOllama(context.Background(), o, 50*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
