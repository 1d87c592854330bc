// Command pipeforge builds declarative OS artifact manifests: it resolves a
// manifest into a DAG of content-addressed pipelines and stages, drives the
// Module Runner across every stage that must run, and checkpoints/exports
// the trees the caller asked for.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	"github.com/banksean/pipeforge/config"
	"github.com/banksean/pipeforge/sandbox"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/posener/complete"
	"gopkg.in/natefinch/lumberjack.v2"
)

type CLI struct {
	StoreRoot    string   `placeholder:"<dir>" help:"object store root (default: XDG state dir)/store"`
	ModulePath   []string `placeholder:"<dir>" help:"directories searched in order for a stage's module executable"`
	LogFile      string   `default:"" placeholder:"<log-file-path>" help:"location of log file (leave empty for a random tmp/ path)"`
	LogLevel     string   `default:"info" placeholder:"<debug|info|warn|error>" help:"the logging level (debug, info, warn, error)"`
	OTLPEndpoint string   `placeholder:"<host:port>" help:"OTLP endpoint kept in the configuration; not read by the tracer (span export follows OTEL_EXPORTER_OTLP_ENDPOINT)"`

	Build   BuildCmd   `cmd:"" help:"resolve a manifest and drive the runner over every pipeline in it"`
	Inspect InspectCmd `cmd:"" help:"resolve a manifest and print its computed ids without building anything"`
	Doc     DocCmd     `cmd:"" help:"print complete command help formatted as markdown"`
	Version VersionCmd `cmd:"" help:"print version information about this command"`
}

const description = `Resolve a declarative pipeline manifest into a DAG of content-addressed
build stages and drive them through the module runner.`

func (c *CLI) initSlog(cctx *kong.Context) {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	path := c.LogFile
	if path == "" {
		f, err := os.CreateTemp("", "pipeforge-log")
		if err != nil {
			panic(err)
		}
		path = f.Name()
		f.Close()
	} else if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		panic(err)
	}

	w := &lumberjack.Logger{Filename: path, MaxSize: 50, MaxBackups: 3, MaxAge: 28}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	slog.Info("slog initialized", "command", cctx.Command())
}

func main() {
	sandbox.MaybeRunBuildRootEntrypoint()

	var cli CLI

	parser, err := kong.New(&cli,
		kong.Configuration(kongyaml.Loader, "~/.pipeforge.yaml"),
		kong.Description(description))
	if err != nil {
		fmt.Fprintf(os.Stderr, "constructing CLI parser: %v\n", err)
		os.Exit(2)
	}
	kongcompletion.Register(parser,
		kongcompletion.WithPredictor("module-path", complete.PredictDirs("*")),
		kongcompletion.WithPredictor("manifest-file", complete.PredictFiles("*.json")))

	cctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
		return
	}
	cli.initSlog(cctx)

	cfg, err := config.Resolve(config.Config{
		StoreRoot:        cli.StoreRoot,
		ModuleSearchPath: cli.ModulePath,
		LogFile:          cli.LogFile,
		LogLevel:         cli.LogLevel,
		OTLPEndpoint:     cli.OTLPEndpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving configuration: %v\n", err)
		os.Exit(2)
	}

	runErr := cctx.Run(&RunContext{Config: cfg, KongContext: cctx})
	if runErr == nil {
		return
	}
	fmt.Fprintln(os.Stderr, runErr.Error())
	os.Exit(exitCodeFor(runErr))
}

// RunContext is kong's bound-context argument, carrying every subcommand's
// shared, resolved configuration.
type RunContext struct {
	Config      config.Config
	KongContext *kong.Context
}

func (c *RunContext) context() context.Context {
	return context.Background()
}
