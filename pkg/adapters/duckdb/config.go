package duckdb

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Params is the duckdb section of a source's params. Dashboards usually
// read files, so most of it is about exposing files as named relations.
//
//	source:
//	  type: duckdb
//	  params:
//	    extensions: [httpfs]
//	    views:
//	      sales: "s3://bucket/sales/*.parquet"
//	    attach:
//	      - name: legacy
//	        path: legacy.sqlite
//	        type: sqlite
type Params struct {
	Extensions []string          `mapstructure:"extensions"`
	Settings   map[string]string `mapstructure:"settings"`
	Secrets    []SecretConfig    `mapstructure:"secrets"`

	// Views maps a view name to a file path or glob that DuckDB can scan.
	Views map[string]string `mapstructure:"views"`

	// Attach lists further databases, always attached read-only.
	Attach []AttachConfig `mapstructure:"attach"`
}

// SecretConfig is a CREATE SECRET for remote files.
type SecretConfig struct {
	Type     string `mapstructure:"type"`
	Provider string `mapstructure:"provider"`
	Region   string `mapstructure:"region,omitempty"`
	// Scope is a single path prefix or a list of them.
	Scope    any    `mapstructure:"scope,omitempty"`
	KeyID    string `mapstructure:"key_id,omitempty"`
	Secret   string `mapstructure:"secret,omitempty"`
	Endpoint string `mapstructure:"endpoint,omitempty"`
	URLStyle string `mapstructure:"url_style,omitempty"`
	UseSSL   *bool  `mapstructure:"use_ssl,omitempty"`
}

// AttachConfig names a database to ATTACH next to the main one.
type AttachConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
	// Type is the storage extension, e.g. sqlite or postgres. Empty means duckdb.
	Type string `mapstructure:"type,omitempty"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var secretTypes = []string{"s3", "gcs", "r2", "azure", "http", "huggingface"}

// parseParams decodes and checks raw source params.
func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}
	if err := mapstructure.Decode(raw, p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Params) validate() error {
	for _, ext := range p.Extensions {
		if !identRe.MatchString(ext) {
			return fmt.Errorf("extension %q is not a valid name", ext)
		}
	}
	for k := range p.Settings {
		if !identRe.MatchString(k) {
			return fmt.Errorf("setting %q is not a valid name", k)
		}
	}
	for i, s := range p.Secrets {
		if !slices.Contains(secretTypes, s.Type) {
			return fmt.Errorf("secrets[%d]: unsupported type %q", i, s.Type)
		}
	}
	for name, path := range p.Views {
		if !identRe.MatchString(name) {
			return fmt.Errorf("view %q is not a valid name", name)
		}
		if path == "" {
			return fmt.Errorf("view %q: path is empty", name)
		}
	}
	seen := make(map[string]bool, len(p.Attach))
	for i, a := range p.Attach {
		if !identRe.MatchString(a.Name) {
			return fmt.Errorf("attach[%d]: %q is not a valid name", i, a.Name)
		}
		if a.Path == "" {
			return fmt.Errorf("attach[%d]: path is empty", i)
		}
		if a.Type != "" && !identRe.MatchString(a.Type) {
			return fmt.Errorf("attach[%d]: %q is not a valid type", i, a.Type)
		}
		if seen[a.Name] {
			return fmt.Errorf("attach[%d]: %q attached twice", i, a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// viewNames returns the view names in creation order.
func (p *Params) viewNames() []string {
	names := make([]string, 0, len(p.Views))
	for n := range p.Views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
