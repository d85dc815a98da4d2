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
	"net"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/guardfs/pkg/audit"
	"chainguard.dev/guardfs/pkg/config"
	"chainguard.dev/guardfs/pkg/control"
	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/mode"
)

func serveCmd(root *rootOptions) *cobra.Command {
	var (
		listen, modeFile, auditLog, initial, emptySource string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control plane and the guarded store",
		Long: `Serve the control plane and the guarded store.

The protection mode starts at the configured initial mode (read-only unless
configured otherwise) and is changed with "guardfs mode set", by writing the
mode file, or with PUT /mode. Files are read and written through the decision
engine at /files/.`,
		Example: `  guardfs serve --root /srv/data --listen 127.0.0.1:7420
  guardfs serve -c /etc/guardfs.yaml --mode-file /run/guardfs/mode`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("mode-file") {
				cfg.ModeFile = modeFile
			}
			if cmd.Flags().Changed("audit-log") {
				cfg.AuditLog = auditLog
			}
			if cmd.Flags().Changed("mode") {
				m, err := mode.Parse(initial)
				if err != nil {
					return err
				}
				cfg.InitialMode = int(m)
			}
			if cmd.Flags().Changed("empty-source") {
				cfg.EmptySource = emptySource
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return err
			}
			return ServeImpl(cmd.Context(), cfg, ln)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", control.DefaultAddr, "control plane address")
	cmd.Flags().StringVar(&modeFile, "mode-file", "", "file whose content sets the mode when it changes")
	cmd.Flags().StringVar(&auditLog, "audit-log", "", "append a JSON line per write decision to this file")
	cmd.Flags().StringVar(&initial, "mode", "", "initial mode: 0/permissive, 1/read-only, 2/backup-only")
	cmd.Flags().StringVar(&emptySource, "empty-source", "allow", "what to do when a file to back up is empty: allow or deny")

	return cmd
}

// ServeImpl runs the control plane on ln, and the mode file watcher when a
// mode file is configured, until ctx is done.
func ServeImpl(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	log := clog.FromContext(ctx)

	initial, err := cfg.Mode()
	if err != nil {
		return err
	}
	modes, err := mode.NewStore(initial)
	if err != nil {
		return err
	}
	if cfg.ModeFile != "" {
		if _, err := mode.LoadFile(cfg.ModeFile, modes); err != nil {
			return err
		}
	}
	policy, err := cfg.EmptySourcePolicy()
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := control.NewMetrics(reg, modes)

	opts := []guard.Option{guard.WithObserver(metrics), guard.WithEmptySourcePolicy(policy)}
	if cfg.AuditLog != "" {
		journal, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts = append(opts, guard.WithAudit(journal))
	}
	engine := guard.New(store, modes, opts...)

	srvOpts := []control.Option{
		control.WithGatherer(reg),
		control.WithFiles(engine),
		control.WithMaxFileSize(cfg.MaxFileBytes),
	}
	if cfg.ModeChangesPerMinute > 0 {
		srvOpts = append(srvOpts, control.WithWriteLimit(cfg.ModeChangesPerMinute, 1))
	}
	srv := control.NewServer(modes, srvOpts...)

	log.Info("starting guardfs", "store", fmt.Sprint(store), "mode", modes.Get().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, ln) })
	if cfg.ModeFile != "" {
		g.Go(func() error { return mode.Watch(ctx, cfg.ModeFile, modes) })
	}
	return g.Wait()
}
