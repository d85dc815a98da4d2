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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chainguard.dev/guardfs/pkg/mode"
)

func TestClient(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, mode.ReadOnly)
	srv := httptest.NewServer(NewServer(s).Handler())
	defer srv.Close()

	c := NewClient(ctx, srv.URL)
	got, err := c.Mode(ctx)
	require.NoError(t, err)
	require.Equal(t, mode.ReadOnly, got)

	require.NoError(t, c.SetMode(ctx, mode.BackupOnly))
	require.Equal(t, mode.BackupOnly, s.Get())

	err = c.SetMode(ctx, mode.Mode(5))
	require.ErrorContains(t, err, "400")
	require.Equal(t, mode.BackupOnly, s.Get())
}

func TestClientHostPort(t *testing.T) {
	c := NewClient(context.Background(), "127.0.0.1:7420/")
	require.Equal(t, "http://127.0.0.1:7420", c.base)
}

func TestClientUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("2\n"))
	}))
	defer srv.Close()

	got, err := NewClient(context.Background(), srv.URL).Mode(context.Background())
	require.NoError(t, err)
	require.Equal(t, mode.BackupOnly, got)
	require.True(t, strings.HasPrefix(ua, "guardfs/"), ua)
}
