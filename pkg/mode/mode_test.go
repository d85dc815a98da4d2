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

package mode

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s, err := NewStore(Default)
	require.NoError(t, err)
	require.Equal(t, ReadOnly, s.Get(), "initial mode should be read-only")

	for _, v := range []int{0, 1, 2} {
		require.NoError(t, s.SetRaw(v))
		require.Equal(t, Mode(v), s.Get())
	}
}

func TestStoreRejectsOutOfRange(t *testing.T) {
	s, err := NewStore(BackupOnly)
	require.NoError(t, err)
	for _, v := range []int{-1, 3, 42, -2147483648} {
		err := s.SetRaw(v)
		require.ErrorIs(t, err, ErrInvalidMode, "value %d", v)
		require.Equal(t, BackupOnly, s.Get(), "mode must be unchanged after %d", v)
	}
	require.ErrorIs(t, s.Set(Mode(7)), ErrInvalidMode)
	require.Equal(t, BackupOnly, s.Get())
}

func TestNewStoreInvalid(t *testing.T) {
	_, err := NewStore(Mode(9))
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestParse(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "0", want: Permissive},
		{in: "1", want: ReadOnly},
		{in: "2", want: BackupOnly},
		{in: "permissive", want: Permissive},
		{in: "read-only", want: ReadOnly},
		{in: "backup-only", want: BackupOnly},
		{in: "3", wantErr: true},
		{in: "x", wantErr: true},
		{in: "", wantErr: true},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestModeString(t *testing.T) {
	require.Equal(t, "permissive", Permissive.String())
	require.Equal(t, "read-only", ReadOnly.String())
	require.Equal(t, "backup-only", BackupOnly.String())
	require.Equal(t, "mode(5)", Mode(5).String())
}

func TestStoreConcurrent(t *testing.T) {
	s, err := NewStore(Default)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.SetRaw((i + j) % 3)
				assert.True(t, s.Get().Valid())
			}
		}(i)
	}
	wg.Wait()
}
