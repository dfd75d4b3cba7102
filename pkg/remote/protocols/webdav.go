package protocols

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/studio-b12/gowebdav"
)

// WebDAV issues a PROPFIND against the connection URL.
//
// Options: "scheme" = "http" | "https" (default https for port 443 and 5006).
type WebDAV struct {
	logger zerolog.Logger
}

// NewWebDAV creates a WebDAV tester.
func NewWebDAV(logger zerolog.Logger) *WebDAV {
	return &WebDAV{logger: logger.With().Str("component", "webdav").Logger()}
}

// URL builds the endpoint URL for t.
func URL(t Target) string {
	port := t.Port
	if port == 0 {
		port = 80
	}
	scheme := strings.ToLower(t.option("scheme"))
	if scheme == "" {
		scheme = "http"
		if port == 443 || port == 5006 {
			scheme = "https"
		}
	}
	path := t.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(t.Host, strconv.Itoa(port)), Path: path}
	return u.String()
}

// TestConnection implements Tester.
func (w *WebDAV) TestConnection(ctx context.Context, t Target) (bool, string) {
	endpoint := URL(t)
	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	return runBounded(ctx, func() (bool, string) {
		client := gowebdav.NewClient(endpoint, t.Username, t.Password)
		client.SetTimeout(t.timeout())
		if err := client.Connect(); err != nil {
			return failure("WebDAV connect failed", err)
		}
		entries, err := client.ReadDir("/")
		if err != nil {
			return failure("WebDAV listing failed", err)
		}
		w.logger.Debug().Str("url", endpoint).Int("entries", len(entries)).Msg("webdav propfind ok")
		return true, fmt.Sprintf("WebDAV connection successful (%d entries)", len(entries))
	})
}
