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

// Package config loads the guardfs configuration file.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"chainguard.dev/guardfs/pkg/control"
	gfs "chainguard.dev/guardfs/pkg/fs"
	"chainguard.dev/guardfs/pkg/fs/objfs"
	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/mode"
)

// Store kinds.
const (
	StoreDir = "dir"
	StoreMem = "mem"
	StoreS3  = "s3"
)

// Store selects and locates the host store.
type Store struct {
	Type      string `yaml:"type"`
	Root      string `yaml:"root,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Secure    bool   `yaml:"secure,omitempty"`
}

// Config is the guardfs configuration.
type Config struct {
	Store       Store    `yaml:"store"`
	InitialMode int      `yaml:"initial_mode"`
	ModeFile    string   `yaml:"mode_file,omitempty"`
	Listen      string   `yaml:"listen"`
	AuditLog    string   `yaml:"audit_log,omitempty"`
	Log         []string `yaml:"log"`
	EmptySource string   `yaml:"empty_source"`
	// ModeChangesPerMinute limits control-plane writes. Zero disables the
	// limit.
	ModeChangesPerMinute int `yaml:"mode_changes_per_minute,omitempty"`
	// MaxFileBytes bounds a single upload to /files/. Negative is
	// unbounded; zero is rejected.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// DefaultMaxFileBytes is the upload bound unless configured.
const DefaultMaxFileBytes = 64 << 20

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store:       Store{Type: StoreDir, Root: "."},
		InitialMode: int(mode.Default),
		Listen:      control.DefaultAddr,
		Log:         []string{"builtin:stderr"},
		EmptySource: guard.EmptySourceAllow.String(),

		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := Parse(b, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML into c and validates the result.
func Parse(b []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return c.Validate()
}

// Validate checks field values and the fields each store type needs.
func (c *Config) Validate() error {
	var errs []error
	if _, err := mode.FromInt(c.InitialMode); err != nil {
		errs = append(errs, fmt.Errorf("initial_mode: %w", err))
	}
	if _, err := guard.ParseEmptySourcePolicy(c.EmptySource); err != nil {
		errs = append(errs, fmt.Errorf("empty_source: %w", err))
	}
	if c.ModeChangesPerMinute < 0 {
		errs = append(errs, errors.New("mode_changes_per_minute: must not be negative"))
	}
	if c.MaxFileBytes == 0 {
		errs = append(errs, errors.New("max_file_bytes: must be positive, or negative for no limit"))
	}
	switch c.Store.Type {
	case StoreDir:
		if c.Store.Root == "" {
			errs = append(errs, errors.New("store.root: required for a dir store"))
		}
	case StoreMem:
	case StoreS3:
		if c.Store.Endpoint == "" {
			errs = append(errs, errors.New("store.endpoint: required for an s3 store"))
		}
		if c.Store.Bucket == "" {
			errs = append(errs, errors.New("store.bucket: required for an s3 store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type: %q is not one of dir, mem, s3", c.Store.Type))
	}
	return errors.Join(errs...)
}

// Mode returns the validated initial mode.
func (c *Config) Mode() (mode.Mode, error) {
	return mode.FromInt(c.InitialMode)
}

// EmptySourcePolicy returns the validated empty-source policy.
func (c *Config) EmptySourcePolicy() (guard.EmptySourcePolicy, error) {
	return guard.ParseEmptySourcePolicy(c.EmptySource)
}

// OpenStore opens the configured host store.
func (c *Config) OpenStore(ctx context.Context) (gfs.FS, error) {
	switch c.Store.Type {
	case StoreDir:
		return gfs.DirFS(c.Store.Root)
	case StoreMem:
		return gfs.NewMemFS(), nil
	case StoreS3:
		return objfs.New(ctx, objfs.Options{
			Endpoint:  c.Store.Endpoint,
			Bucket:    c.Store.Bucket,
			Prefix:    c.Store.Prefix,
			AccessKey: c.Store.AccessKey,
			SecretKey: c.Store.SecretKey,
			Secure:    c.Store.Secure,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", c.Store.Type)
	}
}

// Marshal renders c as YAML with the secret key redacted.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	if out.Store.SecretKey != "" {
		out.Store.SecretKey = "REDACTED"
	}
	return yaml.Marshal(&out)
}
