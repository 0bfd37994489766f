package system

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/connector"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func createTestConfig(t *testing.T) *configs.Config {

	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`{"rules":[{"name":"EBML","pattern":"EBML header parsing failed"}]}`), 0644))

	return &configs.Config{
		Watch: configs.WatchConfig{
			Dir:          t.TempDir(),
			Extensions:   configs.DefaultExtensions,
			Mode:         "poll",
			PollInterval: 20 * time.Millisecond,
		},
		Rules: configs.RulesConfig{
			Path: rulesPath,
		},
		Emby: configs.EmbyConfig{
			Server: "http://127.0.0.1:1",
		},
		Dispatcher: configs.DispatcherConfig{
			Workers:       1,
			QueueSize:     4,
			MaxAttempts:   1,
			ShutdownGrace: time.Second,
		},
		Metrics: configs.MetricsConfig{
			Address: "127.0.0.1:0",
		},
	}
}

func get(t *testing.T, url string) (int, string) {

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestSystemLifecycle(t *testing.T) {

	config := createTestConfig(t)

	conn, err := connector.New(config, zap.NewNop())
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)
	s, err := New(lc, config, zap.NewExample(), dispatcher.New(config, zap.NewNop(), conn))
	require.NoError(t, err)

	lc.RequireStart()
	defer lc.RequireStop()

	base := "http://" + s.admin.Addr()

	status, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	status, body = get(t, base+"/rules")
	assert.Equal(t, http.StatusOK, status)

	var reply RulesReply
	require.NoError(t, json.Unmarshal([]byte(body), &reply))
	assert.True(t, reply.Loaded)
	require.Len(t, reply.Rules, 1)
	assert.Equal(t, "EBML", reply.Rules[0].Name)
	assert.Equal(t, int64(300), reply.Rules[0].RateLimit)

	status, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "emby_watchdog_lines_total"))

	// A broken document is reported and the old rules stay
	require.NoError(t, os.WriteFile(config.Rules.Path, []byte(`{"rules":[{"name":"x"}]}`), 0644))

	resp, err = http.Post(base+"/rules/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	status, _ = get(t, base+"/rules/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	status, body = get(t, base+"/rules")
	assert.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal([]byte(body), &reply))
	assert.Len(t, reply.Rules, 1)
}

func TestSystemFailsOnMissingDirectory(t *testing.T) {

	config := createTestConfig(t)
	config.Watch.Dir = filepath.Join(config.Watch.Dir, "missing")

	conn, err := connector.New(config, zap.NewNop())
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)
	_, err = New(lc, config, zap.NewNop(), dispatcher.New(config, zap.NewNop(), conn))
	require.NoError(t, err)

	assert.Error(t, lc.Start(context.Background()))
}
