// Package definitions loads, validates and saves dashboard definitions.
//
// Definitions live under a base URL understood by viant/afs (a plain
// directory, file://, mem://, s3://, gs://, ...). Files ending in .yaml or
// .yml are YAML; files ending in .json are JSON.
package definitions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Extensions recognized as dashboard definitions.
var Extensions = []string{".yaml", ".yml", ".json"}

// Store is a core.DefinitionStore backed by viant/afs.
type Store struct {
	fs      afs.Service
	baseURL string
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store rooted at base. A base without a scheme is a
// local directory.
func NewStore(base string, opts ...Option) (*Store, error) {
	baseURL, err := BaseURL(base)
	if err != nil {
		return nil, err
	}
	s := &Store{
		fs:      afs.New(),
		baseURL: baseURL,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BaseURL turns a plain directory into an absolute file:// URL and
// leaves URLs with a scheme untouched.
func BaseURL(base string) (string, error) {
	if base == "" {
		base = "."
	}
	if strings.Contains(base, "://") {
		return strings.TrimSuffix(base, "/"), nil
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve dashboards dir: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// URL returns the store's base URL.
func (s *Store) URL() string { return s.baseURL }

// Load reads, decodes and validates the definition at rel.
func (s *Store) Load(ctx context.Context, rel string) (*core.Dashboard, error) {
	location, err := s.location(rel)
	if err != nil {
		return nil, err
	}

	ok, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", rel, err)
	}
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "definitions", "dashboard %q not found", rel)
	}

	content, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	d, err := Decode(rel, content)
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = strings.TrimSuffix(rel, path.Ext(rel))
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	s.logger.Debug("dashboard loaded", slog.String("path", rel), slog.Int("visualizations", len(d.Visualizations)))
	return d, nil
}

// Save validates d and writes it to rel in the format its extension names.
func (s *Store) Save(ctx context.Context, rel string, d *core.Dashboard) error {
	location, err := s.location(rel)
	if err != nil {
		return err
	}
	if err := Validate(d); err != nil {
		return err
	}

	content, err := Encode(rel, d)
	if err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, location, os.FileMode(0o644), bytes.NewReader(content)); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}

	s.logger.Debug("dashboard saved", slog.String("path", rel))
	return nil
}

// List returns the paths of every definition below the base URL, relative
// to it and sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ok, err := s.fs.Exists(ctx, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", s.baseURL, err)
	}
	if !ok {
		return []string{}, nil
	}

	paths := []string{}
	err = s.fs.Walk(ctx, s.baseURL, func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (bool, error) {
		if info.IsDir() {
			return true, nil
		}
		if slices.Contains(Extensions, strings.ToLower(path.Ext(info.Name()))) {
			paths = append(paths, path.Join(parent, info.Name()))
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.baseURL, err)
	}
	slices.Sort(paths)
	return paths, nil
}

func (s *Store) location(rel string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if rel == "" || clean == "/" || slices.Contains(strings.Split(filepath.ToSlash(rel), "/"), "..") {
		return "", core.Errorf(core.KindInvalidArgument, "definitions", "invalid dashboard path %q", rel)
	}
	if !slices.Contains(Extensions, strings.ToLower(path.Ext(clean))) {
		return "", core.Errorf(core.KindInvalidArgument, "definitions",
			"dashboard path %q must end in one of %s", rel, strings.Join(Extensions, ", "))
	}
	return url.Join(s.baseURL, strings.TrimPrefix(clean, "/")), nil
}

// Decode parses a definition, picking YAML or JSON by the name's extension.
func Decode(name string, content []byte) (*core.Dashboard, error) {
	var d core.Dashboard
	var err error
	if strings.EqualFold(path.Ext(name), ".json") {
		err = json.Unmarshal(content, &d)
	} else {
		err = yaml.Unmarshal(content, &d)
	}
	if err != nil {
		return nil, core.Wrap(err, core.KindInvalidArgument, "definitions", fmt.Sprintf("parse %s", name))
	}
	return &d, nil
}

// Encode renders a definition, picking YAML or JSON by the name's extension.
func Encode(name string, d *core.Dashboard) ([]byte, error) {
	if strings.EqualFold(path.Ext(name), ".json") {
		b, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		return append(b, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

var _ core.DefinitionStore = (*Store)(nil)
