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
	"log/slog"

	"github.com/chainguard-dev/clog/slag"
	"github.com/spf13/cobra"
	"sigs.k8s.io/release-utils/version"

	"chainguard.dev/guardfs/pkg/config"
	glog "chainguard.dev/guardfs/pkg/log"
)

// rootOptions holds flags that apply to all commands.
type rootOptions struct {
	configPath string
	logTargets []string
	storeRoot  string
	level      slag.Level

	cfg *config.Config
}

func New() *cobra.Command {
	opts := &rootOptions{level: slag.Level(slog.LevelInfo)}

	cmd := &cobra.Command{
		Use:               "guardfs",
		Short:             "Back up files before they are overwritten, and keep the backups immutable",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.storeRoot != "" {
				cfg.Store = config.Store{Type: config.StoreDir, Root: opts.storeRoot}
			}
			opts.cfg = cfg

			targets := cfg.Log
			if cmd.Flags().Changed("log") {
				targets = opts.logTargets
			}
			h, err := glog.Handler(targets, slog.Level(opts.level))
			if err != nil {
				return fmt.Errorf("setting up logging: %w", err)
			}
			slog.SetDefault(slog.New(h))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the guardfs YAML configuration (defaults are used when unset or missing)")
	cmd.PersistentFlags().StringVar(&opts.storeRoot, "root", "", "use this directory as the store (overrides the configured store)")
	cmd.PersistentFlags().StringSliceVar(&opts.logTargets, "log", glog.DefaultTargets, "log targets: builtin:stderr, builtin:stdout, builtin:discard or a file path")
	cmd.PersistentFlags().Var(&opts.level, "log-level", "log level (e.g. debug, info, warn, error)")

	cmd.AddCommand(serveCmd(opts))
	cmd.AddCommand(modeCmd(opts))
	cmd.AddCommand(backupCmd(opts))
	cmd.AddCommand(checkCmd(opts))
	cmd.AddCommand(lsCmd(opts))
	cmd.AddCommand(writeCmd(opts))
	cmd.AddCommand(version.Version())

	return cmd
}
