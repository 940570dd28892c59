// Package docfold assembles the document composition service: asset
// registries, session state, rendering, artefact storage, access control,
// and the tool-call and HTTP surfaces, all built from one Config.
package docfold

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/docfold/docfold/auth"
	"github.com/docfold/docfold/internal"
	"github.com/docfold/docfold/render"
)

// Version is reported by the MCP implementation info. Override at build time
// with -ldflags "-X github.com/docfold/docfold.Version=v1.2.3".
var Version = "development"

// Config is the configuration for a docfold Instance. The same struct is
// usable three ways: programmatically with Option funcs, from CLI flags via
// the arg tags, and from a TOML config file via the toml tags.
type Config struct {
	// DocsDir is the root of the content asset tree laid out as
	// {templates,fragments,styles}/<group>/<id>/. Ignored when DocsFS is set.
	DocsDir string `json:"docs_dir" toml:"docs_dir" arg:"--docs-dir" default:"docs"`

	// DataDir holds mutable state: sessions/ and storage/. Ignored when
	// DataFS is set.
	DataDir string `json:"data_dir" toml:"data_dir" arg:"--data-dir" default:"data"`

	// ImagesDir is an optional directory of stock images served under
	// /images. Empty disables the endpoint. Ignored when ImagesFS is set.
	ImagesDir string `json:"images_dir" toml:"images_dir" arg:"--images-dir"`

	// PublicBaseURL is the externally reachable base used to mint proxy
	// download urls, e.g. https://docs.example.com. Empty omits the url
	// from render responses.
	PublicBaseURL string `json:"public_base_url" toml:"public_base_url" arg:"--public-base-url"`

	// AuthMode selects the credential verifier: none, static, or jwt.
	// Ignored when Verifier is set.
	AuthMode string `json:"auth_mode" toml:"auth_mode" arg:"--auth-mode" default:"none"`

	// JWTSecret is the HS256 signing secret when AuthMode is jwt.
	JWTSecret string `json:"jwt_secret" toml:"jwt_secret" arg:"--jwt-secret"`

	// StaticTokens maps token strings to comma-separated group lists when
	// AuthMode is static. Settable from a config file, not from flags.
	StaticTokens map[string]string `json:"static_tokens" toml:"static_tokens" arg:"-"`

	// AllowPublic lets tokenless discovery calls proceed as the public
	// group instead of failing with AUTH_REQUIRED.
	AllowPublic bool `json:"allow_public" toml:"allow_public" default:"true"`

	// Minify enables HTML minification of rendered documents.
	Minify bool `json:"minify" toml:"minify"`

	// ImageTimeout bounds each outbound image validation request, in
	// seconds.
	ImageTimeout int `json:"image_timeout" toml:"image_timeout" default:"10"`

	// MaxImageMB caps the size of downloaded fragment images, in megabytes.
	MaxImageMB int `json:"max_image_mb" toml:"max_image_mb" default:"10"`

	// MaxStorageMB caps the artefact store; the housekeeper prunes oldest
	// artefacts beyond it. 0 disables pruning.
	MaxStorageMB int `json:"max_storage_mb" toml:"max_storage_mb"`

	// HousekeepInterval is the time between housekeeper runs, in seconds.
	HousekeepInterval int `json:"housekeep_interval" toml:"housekeep_interval" default:"300"`

	// LockStaleAge is the age in seconds after which another process's
	// prune lock counts as abandoned and is reclaimed.
	LockStaleAge int `json:"lock_stale_age" toml:"lock_stale_age" default:"600"`

	// LogLevel sets the default logger's level when no Logger is given:
	// DEBUG=-4, INFO=0, WARN=4, ERROR=8.
	LogLevel int `json:"log_level" toml:"log_level" arg:"--log-level"`

	// The remaining fields are settable only programmatically.

	// Ctx bounds the instance's lifetime. Requests arriving after it is
	// cancelled fail with a 500.
	Ctx context.Context `json:"-" toml:"-" arg:"-"`

	// Logger receives all instance logs. Defaults to a text handler on
	// stdout at LogLevel.
	Logger *slog.Logger `json:"-" toml:"-" arg:"-"`

	// DocsFS overrides DocsDir as the asset source.
	DocsFS fs.FS `json:"-" toml:"-" arg:"-"`

	// DataFS overrides DataDir as the mutable state root.
	DataFS afero.Fs `json:"-" toml:"-" arg:"-"`

	// ImagesFS overrides ImagesDir as the stock image source.
	ImagesFS fs.FS `json:"-" toml:"-" arg:"-"`

	// Verifier overrides the AuthMode-selected credential verifier.
	Verifier auth.Verifier `json:"-" toml:"-" arg:"-"`

	// PDF overrides the default wkhtmltopdf transcoder.
	PDF render.PDFEngine `json:"-" toml:"-" arg:"-"`

	// Markdown overrides the default html-to-markdown transcoder.
	Markdown render.MarkdownEngine `json:"-" toml:"-" arg:"-"`

	// HTTPClient is used for outbound image validation requests.
	HTTPClient *http.Client `json:"-" toml:"-" arg:"-"`

	// FuncMaps extends the template funcs available to asset sources.
	FuncMaps []template.FuncMap `json:"-" toml:"-" arg:"-"`
}

// Option is a programmatic Config override passed to Config.Instance or
// Config.Server.
type Option func(*Config) error

// Defaults fills unset fields with their defaults and returns config.
func (config *Config) Defaults() *Config {
	if config.DocsDir == "" {
		config.DocsDir = "docs"
	}
	if config.DataDir == "" {
		config.DataDir = "data"
	}
	if config.AuthMode == "" {
		config.AuthMode = "none"
	}
	if config.ImageTimeout == 0 {
		config.ImageTimeout = 10
	}
	if config.MaxImageMB == 0 {
		config.MaxImageMB = 10
	}
	if config.HousekeepInterval == 0 {
		config.HousekeepInterval = 300
	}
	if config.LockStaleAge == 0 {
		config.LockStaleAge = 600
	}
	if config.Ctx == nil {
		config.Ctx = context.Background()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.Level(config.LogLevel)}))
	}
	return config
}

// Options applies opts to config in order, stopping at the first error.
func (config *Config) Options(opts ...Option) (*Config, error) {
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return config, err
		}
	}
	return config, nil
}

func WithLogger(log *slog.Logger) Option {
	return func(config *Config) error {
		if log == nil {
			return errors.New("logger must not be nil")
		}
		config.Logger = log
		return nil
	}
}

func WithDocsFS(fsys fs.FS) Option {
	return func(config *Config) error {
		if fsys == nil {
			return errors.New("docs fs must not be nil")
		}
		config.DocsFS = fsys
		return nil
	}
}

func WithDataFS(fsys afero.Fs) Option {
	return func(config *Config) error {
		if fsys == nil {
			return errors.New("data fs must not be nil")
		}
		config.DataFS = fsys
		return nil
	}
}

func WithImagesFS(fsys fs.FS) Option {
	return func(config *Config) error {
		config.ImagesFS = fsys
		return nil
	}
}

func WithVerifier(v auth.Verifier) Option {
	return func(config *Config) error {
		config.Verifier = v
		return nil
	}
}

func WithPDF(p render.PDFEngine) Option {
	return func(config *Config) error {
		config.PDF = p
		return nil
	}
}

func WithMarkdown(m render.MarkdownEngine) Option {
	return func(config *Config) error {
		config.Markdown = m
		return nil
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(config *Config) error {
		config.HTTPClient = c
		return nil
	}
}

func WithFuncMaps(maps ...template.FuncMap) Option {
	return func(config *Config) error {
		config.FuncMaps = append(config.FuncMaps, maps...)
		return nil
	}
}

// WithRegisteredFuncMaps activates FuncMaps that extension packages
// contributed through the register package.
func WithRegisteredFuncMaps(names ...string) Option {
	return func(config *Config) error {
		for _, name := range names {
			funcs, ok := internal.RegisteredFuncMaps[name]
			if !ok {
				return fmt.Errorf("funcmap named '%s' not registered", name)
			}
			config.FuncMaps = append(config.FuncMaps, funcs)
		}
		return nil
	}
}

// WithRegisteredDocsFS selects a filesystem registered through the register
// package as the document asset source.
func WithRegisteredDocsFS(name string) Option {
	return func(config *Config) error {
		fsys, ok := internal.RegisteredFS[name]
		if !ok {
			return fmt.Errorf("fs named '%s' not registered", name)
		}
		config.DocsFS = fsys
		return nil
	}
}

// verifier builds the credential verifier selected by AuthMode. An explicit
// Verifier wins over the mode.
func (config *Config) verifier() (auth.Verifier, error) {
	if config.Verifier != nil {
		return config.Verifier, nil
	}
	switch config.AuthMode {
	case "none":
		return nil, nil
	case "static":
		v := auth.StaticVerifier{}
		for token, groups := range config.StaticTokens {
			var set []string
			for _, g := range strings.Split(groups, ",") {
				if g = strings.TrimSpace(g); g != "" {
					set = append(set, g)
				}
			}
			if len(set) == 0 {
				return nil, errors.New("static token grants no groups")
			}
			v[token] = set
		}
		return v, nil
	case "jwt":
		if config.JWTSecret == "" {
			return nil, errors.New("auth_mode jwt requires jwt_secret")
		}
		return auth.JWTVerifier{Secret: []byte(config.JWTSecret)}, nil
	}
	return nil, fmt.Errorf("unknown auth_mode %q", config.AuthMode)
}
