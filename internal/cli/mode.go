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

	"github.com/spf13/cobra"

	"chainguard.dev/guardfs/pkg/control"
	"chainguard.dev/guardfs/pkg/mode"
)

func modeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Read or change the protection mode of a running guardfs",
		Long: `Read or change the protection mode of a running guardfs.

Modes:
  0  permissive   writes allowed; existing files are backed up first
  1  read-only    every write is denied (the mode at start)
  2  backup-only  only backup artifacts may be written`,
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "control plane address (defaults to the configured listen address)")

	target := func() string {
		if addr != "" {
			return addr
		}
		return root.cfg.Listen
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "get",
		Short:   "Print the current mode",
		Example: `  guardfs mode get`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ModeGetImpl(cmd.Context(), cmd.OutOrStdout(), target())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <mode>",
		Short: "Change the mode",
		Example: `  guardfs mode set 0
  guardfs mode set backup-only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ModeSetImpl(cmd.Context(), target(), args[0])
		},
	})

	return cmd
}

func ModeGetImpl(ctx context.Context, w io.Writer, addr string) error {
	m, err := control.NewClient(ctx, addr).Mode(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d (%s)\n", int(m), m)
	return err
}

func ModeSetImpl(ctx context.Context, addr, value string) error {
	m, err := mode.Parse(value)
	if err != nil {
		return err
	}
	return control.NewClient(ctx, addr).SetMode(ctx, m)
}
