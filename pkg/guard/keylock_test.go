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

package guard

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLockExcludes(t *testing.T) {
	k := newKeyLock()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak.Load())
	require.Zero(t, k.len(), "entries are dropped once released")
}

func TestKeyLockIndependentKeys(t *testing.T) {
	k := newKeyLock()
	unlockA := k.Lock("a")
	// Would deadlock if keys shared a mutex.
	unlockB := k.Lock("b")
	require.Equal(t, 2, k.len())
	unlockB()
	unlockA()
	require.Zero(t, k.len())
}
