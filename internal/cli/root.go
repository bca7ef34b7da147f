// Package cli is kiln's command line: the chat TUI and a few scriptable
// commands over the same runtime and storage.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kiln/internal/cache"
	"kiln/internal/chatstore"
	"kiln/internal/config"
	"kiln/internal/engine"
	"kiln/internal/kv"
	"kiln/internal/logger"
	"kiln/internal/ollama"
	"kiln/internal/session"
	"kiln/internal/styles"
	"kiln/internal/ui"
)

const chatsStore = "chats"

// options are the global flags.
type options struct {
	noColor bool
	verbose bool
}

// env is everything a command needs, built from the configuration.
type env struct {
	cfg     config.Config
	client  *ollama.Client
	runtime *engine.Ollama
	caches  *cache.Dir
	catalog *engine.Catalog
	logs    io.Closer
	store   kv.Store
}

func (e *env) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.logs != nil {
		_ = e.logs.Close()
	}
}

// openStore opens the transcript store on the configured backend.
func (e *env) openStore(ctx context.Context) (kv.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	s, err := kv.Open(ctx, e.cfg.Storage, chatsStore)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", e.cfg.Storage.Backend, err)
	}
	e.store = s
	return s, nil
}

func newEnv(opts *options, tui bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logs, err := logger.Setup(cfg, !tui && opts.verbose)
	if err != nil {
		return nil, err
	}
	client := ollama.New(cfg.Runtime.OllamaURL)
	caches := cache.New(cfg.Storage.CacheDir)
	return &env{
		cfg:     cfg,
		client:  client,
		runtime: engine.NewOllama(client, cfg.Runtime.KeepAlive),
		caches:  caches,
		catalog: engine.NewCatalog(client, caches),
		logs:    logs,
	}, nil
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "kiln",
		Short: "Chat with small local models",
		Long: `kiln loads a small chat model into a local Ollama server and lets you
talk to it from the terminal. Transcripts are saved per model.

Configuration comes from KILN_* environment variables or a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			styles.InitTheme(opts.noColor)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newModelsCmd(opts),
		newPullCmd(opts),
		newGPUCmd(opts),
		newHistoryCmd(opts),
		newClearCachesCmd(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runTUI(ctx context.Context, opts *options) error {
	e, err := newEnv(opts, true)
	if err != nil {
		return err
	}
	defer e.Close()
	log := logger.With("kiln.cli")

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	chats, err := chatstore.Open(ctx, store, e.cfg.Runtime.DefaultModel)
	if err != nil {
		log.Warn("starting with an empty transcript", "error", err)
	}
	defer chats.Close()

	sess := session.New(e.runtime,
		session.WithCaches(e.caches),
		session.WithStore(store),
	)
	// Leave Ollama's memory the way we found it.
	defer sess.Unload(context.WithoutCancel(ctx))

	p := ui.NewProgram(ctx, ui.Deps{Session: sess, Chats: chats, Catalog: e.catalog})
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}
