// Package app implements the docfold command line interface: flag and
// config-file handling, filesystem watching, and the choice of serving the
// HTTP surface, the stdio MCP transport, or both.
package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alexflint/go-arg"
	"github.com/infogulch/watch"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docfold/docfold"
	"github.com/docfold/docfold/tools"
)

type Args struct {
	docfold.Config
	Watch       []string `json:"watch_dirs" toml:"watch_dirs" arg:",separate"`
	WatchDocs   bool     `json:"watch_docs" toml:"watch_docs" default:"true"`
	Listen      string   `json:"listen" toml:"listen" arg:"-l" default:"0.0.0.0:8080"`
	Serve       string   `json:"serve" toml:"serve" default:"http" help:"transports to serve: http, stdio, or both"`
	Funcmaps    []string `json:"funcmaps" toml:"funcmaps" arg:"--funcmap,separate" help:"registered funcmaps to activate"`
	Configs     []string `json:"-" toml:"-" arg:"-c,--config,separate" help:"inline toml config"`
	ConfigFiles []string `json:"-" toml:"-" arg:"-f,--config-file,separate" help:"toml config file"`
}

func (Args) Version() string {
	return docfold.Version
}

// Main can be called from your func main() if you want your program to act
// like the default docfold cli, or use it as a reference for making your
// own. Provide options to override the defaults like:
//
//	app.Main(docfold.WithFuncMaps(myFuncs))
func Main(overrides ...docfold.Option) {
	var config Args
	var log *slog.Logger

	{
		arg.MustParse(&config)
		config.Defaults()

		// Bootstrap logger on stderr: in stdio mode stdout belongs to the
		// MCP session, and the serve mode isn't final until files are read.
		level := config.LogLevel
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(level)}))

		var fileConfig Args
		var decoded bool
		for _, name := range config.ConfigFiles {
			if _, err := toml.DecodeFile(name, &fileConfig); err != nil {
				log.Error("failed to decode args from toml file", slog.String("filename", name), slog.Any("error", err))
				os.Exit(1)
			}
			decoded = true
			log.Debug("incorporated toml file", slog.String("filename", name))
		}

		for _, conf := range config.Configs {
			if _, err := toml.Decode(conf, &fileConfig); err != nil {
				log.Error("failed to decode arg from toml flag", slog.String("toml_string", conf), slog.Any("error", err))
				os.Exit(1)
			}
			decoded = true
			log.Debug("incorporated toml value", slog.String("toml_string", conf))
		}

		if decoded {
			// Parse again over the file values so flags win.
			arg.MustParse(&fileConfig)
			config = fileConfig
		}

		out := os.Stdout
		if config.Serve != "http" {
			out = os.Stderr
		}
		if config.LogLevel != level || out != os.Stderr {
			log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.Level(config.LogLevel)}))
		}

		config.Logger = log

		log.Debug("loaded configuration",
			slog.String("docs_dir", config.DocsDir),
			slog.String("data_dir", config.DataDir),
			slog.String("images_dir", config.ImagesDir),
			slog.String("auth_mode", config.AuthMode),
			slog.String("serve", config.Serve),
			slog.String("listen", config.Listen))
	}

	switch config.Serve {
	case "http", "stdio", "both":
	default:
		log.Error("unknown serve mode", slog.String("serve", config.Serve))
		os.Exit(1)
	}

	if len(config.Funcmaps) != 0 {
		overrides = append(overrides, docfold.WithRegisteredFuncMaps(config.Funcmaps...))
	}

	server, err := config.Server(overrides...)
	if err != nil {
		log.Error("failed to load docfold", slog.Any("error", err))
		os.Exit(2)
	}

	if config.WatchDocs {
		if config.DocsFS == nil {
			config.Watch = append(config.Watch, config.DocsDir)
		}
		if config.ImagesFS == nil && config.ImagesDir != "" {
			config.Watch = append(config.Watch, config.ImagesDir)
		}
	}
	if len(config.Watch) != 0 {
		_, err := watch.Watch(config.Watch, 200*time.Millisecond, log.WithGroup("fswatch"), func() bool {
			server.Reload()
			return true
		})
		if err != nil {
			log.Info("failed to watch directories", slog.Any("error", err), slog.Any("directories", config.Watch))
			os.Exit(4)
		}
	}

	switch config.Serve {
	case "stdio":
		log.Info("stdio session ended", slog.Any("exit", serveStdio(server)))
	case "both":
		go func() {
			log.Info("server stopped", slog.Any("exit", server.Serve(config.Listen)))
			os.Exit(3)
		}()
		log.Info("stdio session ended", slog.Any("exit", serveStdio(server)))
	default:
		log.Info("server stopped", slog.Any("exit", server.Serve(config.Listen)))
	}
}

// serveStdio runs one MCP session over stdin/stdout against the server's
// current instance. Reloads do not affect a session already in progress.
func serveStdio(server docfold.Server) error {
	mcpServer := tools.NewMCPServer(server.Instance().Dispatcher(), docfold.Version)
	return mcpServer.Run(context.Background(), &mcp.StdioTransport{})
}
