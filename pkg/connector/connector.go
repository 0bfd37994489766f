package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"go.uber.org/zap"
)

const (
	refreshPath = "/Items/%s/Refresh"
)

// Connector talks to the Emby server API.
type Connector struct {
	server             *url.URL
	apiKey             string
	refreshMode        string
	imageRefreshMode   string
	replaceAllMetadata bool
	replaceAllImages   bool
	client             *http.Client
	logger             *zap.Logger
}

func New(config *configs.Config, logger *zap.Logger) (*Connector, error) {

	c := &Connector{
		apiKey:             config.Emby.APIKey,
		refreshMode:        config.Emby.RefreshMode,
		imageRefreshMode:   config.Emby.ImageRefreshMode,
		replaceAllMetadata: config.Emby.ReplaceAllMetadata,
		replaceAllImages:   config.Emby.ReplaceAllImages,
		logger:             logger.Named("Connector"),
	}

	timeout := config.Emby.Timeout
	if timeout <= 0 {
		timeout = configs.DefaultEmbyTimeout
	}

	c.client = &http.Client{
		Timeout: timeout,
	}

	server, err := url.Parse(strings.TrimRight(config.Emby.Server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid emby.server: %w", err)
	}

	if server.Scheme != "http" && server.Scheme != "https" {
		return nil, fmt.Errorf("invalid emby.server: unsupported scheme %q", server.Scheme)
	}

	c.server = server

	c.logger.Info("Emby endpoint configured",
		zap.String("server", server.Redacted()),
		zap.Duration("timeout", timeout),
		zap.String("refreshMode", c.refreshMode),
		zap.Bool("apiKey", len(c.apiKey) > 0),
	)

	return c, nil
}

func (c *Connector) refreshURL(itemID string) string {

	// Item ids taken from log lines may be paths
	u := *c.server
	base := u.EscapedPath()
	u.Path = u.Path + fmt.Sprintf(refreshPath, itemID)
	u.RawPath = base + fmt.Sprintf(refreshPath, url.PathEscape(itemID))

	q := url.Values{}
	if len(c.apiKey) > 0 {
		q.Set("api_key", c.apiKey)
	}
	if len(c.refreshMode) > 0 {
		q.Set("MetadataRefreshMode", c.refreshMode)
	}
	if len(c.imageRefreshMode) > 0 {
		q.Set("ImageRefreshMode", c.imageRefreshMode)
	}
	q.Set("ReplaceAllMetadata", strconv.FormatBool(c.replaceAllMetadata))
	q.Set("ReplaceAllImages", strconv.FormatBool(c.replaceAllImages))

	u.RawQuery = q.Encode()

	return u.String()
}

// Refresh asks the server to refresh the metadata of an item. The status
// code is returned as is; err is only set when no response was received.
func (c *Connector) Refresh(ctx context.Context, itemID string) (int, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL(itemID), nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	c.logger.Debug("Refresh request completed",
		zap.String("item_id", itemID),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return resp.StatusCode, nil
}
