// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/bureau-foundation/weave/lib/netutil"
	"github.com/bureau-foundation/weave/lib/ref"
)

// DiscoverConfig holds the dependencies for homeserver discovery.
// All fields are optional; zero values use production defaults.
type DiscoverConfig struct {
	// HTTPClient is used for the .well-known lookup. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client
	// Resolver is used for the SRV fallback. If nil, net.DefaultResolver
	// is used.
	Resolver *net.Resolver
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// wellKnownResponse is the body of GET /.well-known/matrix/client.
type wellKnownResponse struct {
	Homeserver struct {
		BaseURL string `json:"base_url"`
	} `json:"m.homeserver"`
}

// DiscoverServer resolves a Matrix server name to the homeserver base
// URL clients should connect to. Resolution order:
//
//  1. GET https://<server>/.well-known/matrix/client, reading
//     m.homeserver.base_url.
//  2. SRV lookup of _matrix._tcp.<server>, building
//     https://<target>:<port>.
//  3. https://<server> as-is.
//
// A failed lookup at one stage falls through to the next; only a
// well-known document that exists but is malformed is an error, since
// that signals an actively misconfigured server rather than an absent
// delegation.
func DiscoverServer(ctx context.Context, server ref.ServerName, config DiscoverConfig) (string, error) {
	if server.IsZero() {
		return "", fmt.Errorf("messaging: cannot discover zero server name")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resolver := config.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL, err := discoverWellKnown(ctx, httpClient, server)
	if err != nil {
		return "", err
	}
	if baseURL != "" {
		logger.Debug("homeserver discovered via well-known",
			"server", server,
			"base_url", baseURL,
		)
		return baseURL, nil
	}

	if baseURL := discoverSRV(ctx, resolver, server); baseURL != "" {
		logger.Debug("homeserver discovered via SRV",
			"server", server,
			"base_url", baseURL,
		)
		return baseURL, nil
	}

	fallback := "https://" + server.String()
	logger.Debug("homeserver discovery fell through to server name",
		"server", server,
		"base_url", fallback,
	)
	return fallback, nil
}

// discoverWellKnown fetches the client well-known document. Returns an
// empty URL (no error) when the document is absent or unreachable, and
// an error only when the document exists but is unusable.
func discoverWellKnown(ctx context.Context, httpClient *http.Client, server ref.ServerName) (string, error) {
	wellKnownURL := "https://" + server.String() + "/.well-known/matrix/client"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: building well-known request: %w", err)
	}

	response, err := httpClient.Do(request)
	if err != nil {
		// Unreachable server: fall through to SRV.
		return "", nil
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", nil
	}

	var document wellKnownResponse
	if err := netutil.DecodeResponse(response.Body, &document); err != nil {
		return "", fmt.Errorf("messaging: malformed well-known document from %q: %w", server, err)
	}
	baseURL := strings.TrimRight(document.Homeserver.BaseURL, "/")
	if baseURL == "" {
		return "", fmt.Errorf("messaging: well-known document from %q missing m.homeserver.base_url", server)
	}
	return baseURL, nil
}

// discoverSRV looks up the _matrix._tcp SRV record for the server.
// Returns an empty URL when no usable record exists.
func discoverSRV(ctx context.Context, resolver *net.Resolver, server ref.ServerName) string {
	_, records, err := resolver.LookupSRV(ctx, "matrix", "tcp", server.String())
	if err != nil || len(records) == 0 {
		return ""
	}
	// Records arrive sorted by priority and randomized by weight.
	record := records[0]
	target := strings.TrimSuffix(record.Target, ".")
	if target == "" {
		return ""
	}
	return fmt.Sprintf("https://%s:%d", target, record.Port)
}
