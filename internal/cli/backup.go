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

package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/guardfs/pkg/backup"
	gfs "chainguard.dev/guardfs/pkg/fs"
)

func backupCmd(root *rootOptions) *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "backup <name>...",
		Short: "Back up files in the store now",
		Long: `Back up files in the store now.

Each file is copied to a timestamped backup next to it. Backups of distinct
files run concurrently; a failure does not stop the others. A name given
more than once is backed up once.

The store is opened directly: the protection mode is not consulted, and a
server writing to the same store concurrently is not coordinated with.`,
		Example: `  guardfs backup docs/report.txt docs/budget.xlsx`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.cfg.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			return BackupImpl(cmd.Context(), cmd.OutOrStdout(), store, jobs, args...)
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "number of backups to run at once")

	return cmd
}

// BackupImpl backs up every distinct name and prints one line per backup
// made. It returns the first error after all backups were attempted.
func BackupImpl(ctx context.Context, w io.Writer, store gfs.FS, jobs int, names ...string) error {
	log := clog.FromContext(ctx)
	exec := backup.New(store)

	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		clean, ok := gfs.Clean(name)
		if !ok {
			return fmt.Errorf("invalid name %q", name)
		}
		if !seen[clean] {
			seen[clean] = true
			unique = append(unique, clean)
		}
	}
	names = unique

	results := make([]*backup.Result, len(names))
	var (
		mu       sync.Mutex
		firstErr error
	)
	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, name := range names {
		g.Go(func() error {
			res, err := exec.MakeBackup(ctx, name)
			if err != nil {
				log.Error("backup failed", "name", name, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s -> %s (%d bytes)\n", res.Source, res.Backup, res.Size); err != nil {
			return err
		}
	}
	return firstErr
}
