// Copyright 2026 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/hashicorp/go-retryablehttp"
	"sigs.k8s.io/release-utils/version"

	"chainguard.dev/guardfs/pkg/mode"
)

// Client talks to a running control plane.
type Client struct {
	base string
	http *retryablehttp.Client
}

// NewClient returns a client for the control plane at addr, given either
// as host:port or as a URL.
func NewClient(ctx context.Context, addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = clog.FromContext(ctx)
	c.HTTPClient.Transport = userAgentTransport{c.HTTPClient.Transport}
	return &Client{base: strings.TrimSuffix(base, "/"), http: c}
}

// Mode fetches the current mode.
func (c *Client) Mode(ctx context.Context) (mode.Mode, error) {
	body, err := c.do(ctx, http.MethodGet, nil, http.StatusOK)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return 0, fmt.Errorf("control plane returned %q: %w", body, err)
	}
	return mode.FromInt(n)
}

// SetMode changes the mode. The server rejects invalid values.
func (c *Client) SetMode(ctx context.Context, m mode.Mode) error {
	_, err := c.do(ctx, http.MethodPut, []byte(strconv.Itoa(int(m))+"\n"), http.StatusNoContent)
	return err
}

func (c *Client) do(ctx context.Context, method string, body []byte, want int) (string, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+"/mode", rawBody)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != want {
		return "", fmt.Errorf("%s %s: %s: %s", method, req.URL, resp.Status, strings.TrimSpace(string(b)))
	}
	return string(b), nil
}

type userAgentTransport struct{ t http.RoundTripper }

func (u userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("guardfs/%s", version.GetVersionInfo().GitVersion))
	return u.t.RoundTrip(req)
}
