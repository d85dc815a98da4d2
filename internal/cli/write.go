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
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	gfs "chainguard.dev/guardfs/pkg/fs"
	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/mode"
)

func writeCmd(root *rootOptions) *cobra.Command {
	var modeFlag string

	cmd := &cobra.Command{
		Use:   "write <name>",
		Short: "Replace a file with standard input, through the decision engine",
		Long: `Replace a file with standard input, through the decision engine.

The store is opened directly, without a running server, and the write is
decided under --mode (the configured initial mode by default).`,
		Example: `  echo v2 | guardfs write --root /srv/data --mode permissive docs/report.txt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			m, err := cfg.Mode()
			if err != nil {
				return err
			}
			if modeFlag != "" {
				if m, err = mode.Parse(modeFlag); err != nil {
					return err
				}
			}
			policy, err := cfg.EmptySourcePolicy()
			if err != nil {
				return err
			}
			store, err := cfg.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			return WriteImpl(cmd.Context(), store, m, args[0], cmd.InOrStdin(), guard.WithEmptySourcePolicy(policy))
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "", "mode to decide under")

	return cmd
}

func WriteImpl(ctx context.Context, store gfs.FS, m mode.Mode, name string, r io.Reader, opts ...guard.Option) error {
	modes, err := mode.NewStore(m)
	if err != nil {
		return err
	}
	e := guard.New(store, modes, opts...)
	h, v, res, err := e.AuthorizeResult(ctx, name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(h, r); err != nil {
		h.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := h.Close(); err != nil {
		return err
	}
	log := clog.FromContext(ctx).With("name", h.Name(), "verdict", v.String())
	if res != nil {
		log = log.With("backup", res.Backup)
	}
	log.Info("wrote file")
	return nil
}
