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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	gfs "chainguard.dev/guardfs/pkg/fs"
	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/mode"
)

func checkCmd(root *rootOptions) *cobra.Command {
	var (
		write, created bool
		modeFlag       string
	)

	cmd := &cobra.Command{
		Use:   "check <name>",
		Short: "Show the verdict an open would get, without touching the store",
		Example: `  guardfs check --write --mode permissive docs/report.txt
  guardfs check --write --created _1718000000123_report.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := root.cfg.Mode()
			if err != nil {
				return err
			}
			if modeFlag != "" {
				if m, err = mode.Parse(modeFlag); err != nil {
					return err
				}
			}
			return CheckImpl(cmd.OutOrStdout(), m, args[0], write, created)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "the open asks for write access")
	cmd.Flags().BoolVar(&created, "created", false, "the open just created the file")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "mode to decide under (defaults to the configured initial mode)")

	return cmd
}

func CheckImpl(w io.Writer, m mode.Mode, name string, write, created bool) error {
	intent := gfs.IntentRead
	if write {
		intent = gfs.IntentWrite
	}
	req := guard.NewRequest(name, intent, created)
	_, err := fmt.Fprintf(w, "%s\t%s\tbackup=%t\t%s\n", guard.Decide(m, req), m, req.Name.IsBackup, name)
	return err
}
