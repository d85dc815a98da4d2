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
	"time"

	"github.com/spf13/cobra"

	"chainguard.dev/guardfs/pkg/backupname"
	gfs "chainguard.dev/guardfs/pkg/fs"
)

func lsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls <name>",
		Short:   "List the backups of a file, newest first",
		Example: `  guardfs ls docs/report.txt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.cfg.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			return LsImpl(cmd.Context(), cmd.OutOrStdout(), store, args[0])
		},
	}
}

func LsImpl(_ context.Context, w io.Writer, store gfs.FS, name string) error {
	clean, ok := gfs.Clean(name)
	if !ok {
		return fmt.Errorf("invalid name %q", name)
	}
	names, err := backupname.List(store, gfs.Dir(clean), gfs.Base(clean))
	if err != nil {
		return err
	}
	for _, n := range names {
		when := "-"
		if t, ok := backupname.Parse(gfs.Base(n)).Time(); ok {
			when = t.UTC().Format(time.RFC3339Nano)
		}
		size := int64(-1)
		if fi, err := store.Stat(n); err == nil {
			size = fi.Size()
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\n", when, size, n); err != nil {
			return err
		}
	}
	return nil
}
