package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createTestConfig(server string) *configs.Config {
	return &configs.Config{
		Emby: configs.EmbyConfig{
			Server:             server,
			APIKey:             "secret",
			Timeout:            time.Second,
			RefreshMode:        "FullRefresh",
			ImageRefreshMode:   "Default",
			ReplaceAllMetadata: true,
			ReplaceAllImages:   false,
		},
	}
}

func TestRefresh(t *testing.T) {

	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(createTestConfig(srv.URL+"/"), zap.NewExample())
	require.NoError(t, err)

	status, err := c.Refresh(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/Items/101/Refresh", got.URL.Path)
	assert.Equal(t, "secret", got.URL.Query().Get("api_key"))
	assert.Equal(t, "FullRefresh", got.URL.Query().Get("MetadataRefreshMode"))
	assert.Equal(t, "Default", got.URL.Query().Get("ImageRefreshMode"))
	assert.Equal(t, "true", got.URL.Query().Get("ReplaceAllMetadata"))
	assert.Equal(t, "false", got.URL.Query().Get("ReplaceAllImages"))
}

func TestRefreshEscapesItemID(t *testing.T) {

	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(createTestConfig(srv.URL+"/emby"), zap.NewNop())
	require.NoError(t, err)

	status, err := c.Refresh(context.Background(), "/media/movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	require.NotNil(t, got)
	assert.Equal(t, "/emby/Items/%2Fmedia%2Fmovie.mkv/Refresh", got.URL.EscapedPath())
	assert.Equal(t, "/emby/Items//media/movie.mkv/Refresh", got.URL.Path)
}

func TestRefreshReturnsErrorStatus(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(createTestConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	status, err := c.Refresh(context.Background(), "404")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRefreshTransportError(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c, err := New(createTestConfig(addr), zap.NewNop())
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), "101")
	assert.Error(t, err)
}

func TestNewRejectsInvalidServer(t *testing.T) {

	_, err := New(createTestConfig("ftp://emby.local"), zap.NewNop())
	assert.Error(t, err)

	_, err = New(createTestConfig("://"), zap.NewNop())
	assert.Error(t, err)
}
