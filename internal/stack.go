package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/notesearch/internal/embedder"
	"github.com/starford/notesearch/internal/exact"
	"github.com/starford/notesearch/internal/index"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/noteservice"
	"github.com/starford/notesearch/internal/search"
	"github.com/starford/notesearch/internal/semantic"
	"github.com/starford/notesearch/internal/sse"
	"github.com/starford/notesearch/internal/storage"
)

// stack is the wired search core shared by every command.
type stack struct {
	cfg    *Config
	logger *slog.Logger

	vault    *storage.FS
	fulltext *index.FullText
	semantic *semantic.Index
	semStore *semantic.BadgerStore
	exact    *exact.Matcher
	coord    *search.Coordinator
	svc      *noteservice.Service
	broker   *sse.Broker
}

// newApplication applies opts and installs the JSON logger.
func newApplication(opts []Option) (*application, *slog.Logger, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

// openStack opens the vault and both indexes and wires the coordinator.
// Persisted semantic vectors are restored when a persist path is configured.
func openStack(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	s.vault, err = storage.NewFS(cfg.Vault.Path, storage.WithModTimeCache(cfg.Vault.ModTimeCache))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	s.broker = sse.NewBroker(2*time.Second, s.statusEvent)

	s.fulltext, err = index.Open(ctx, cfg.Index.Path(), s.vault,
		index.WithLogger(logger),
		index.WithProgressEvery(cfg.Index.ProgressEvery),
		index.WithSnippet(cfg.Index.SnippetTokens, cfg.Index.HighlightOpen, cfg.Index.HighlightClose),
		index.WithBuildHooks(s.hooks(models.SourceFullText)),
	)
	if err != nil {
		return nil, fmt.Errorf("init full-text index: %w", err)
	}

	semOpts := []semantic.Option{
		semantic.WithLogger(logger),
		semantic.WithWorkers(cfg.Semantic.Workers),
		semantic.WithBuildHooks(s.hooks(models.SourceSemantic)),
	}
	if cfg.Semantic.PersistPath != "" {
		s.semStore, err = semantic.OpenBadgerStore(cfg.Semantic.PersistPath, logger)
		if err != nil {
			return nil, fmt.Errorf("init semantic store: %w", err)
		}
		semOpts = append(semOpts, semantic.WithStore(s.semStore))
	}
	s.semantic = semantic.New(s.vault, embedder.NewFactory(cfg.Semantic.Embedder()), semOpts...)
	if n, err := s.semantic.Restore(ctx); err != nil {
		logger.Warn("semantic: restore failed, index will be rebuilt", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("semantic: restored vectors", slog.Int("count", n))
	}

	s.exact = exact.New(s.vault)
	s.coord = search.New(s.exact, s.fulltext, s.semantic,
		search.WithLogger(logger),
		search.WithTimeout(cfg.Search.Timeout),
		search.WithSemanticAutoRebuild(cfg.Semantic.AutoRebuild),
	)
	s.svc = noteservice.NewService(s.vault, s.coord, cfg.Search.DefaultLimit, logger)
	return s, nil
}

// hooks forwards build lifecycle to the event broker.
func (s *stack) hooks(source models.SourceKind) (func(), func(int, error)) {
	return func() {
			s.broker.RebuildStarted(string(source))
		}, func(count int, err error) {
			s.broker.RebuildFinished(string(source), count, err)
		}
}

func (s *stack) statusEvent() any {
	if s.coord == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.coord.Status(ctx)
	if err != nil {
		s.logger.Warn("status: unavailable", slog.String("error", err.Error()))
		return nil
	}
	return st
}

// Close stops background work and releases indexes in dependency order.
func (s *stack) Close() {
	if s.svc != nil {
		s.svc.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}
	if s.fulltext != nil {
		if err := s.fulltext.Close(); err != nil {
			s.logger.Error("close full-text index", slog.String("error", err.Error()))
		}
	}
	switch {
	case s.semantic != nil:
		// Also closes the store.
		if err := s.semantic.Close(); err != nil {
			s.logger.Error("close semantic index", slog.String("error", err.Error()))
		}
	case s.semStore != nil:
		if err := s.semStore.Close(); err != nil {
			s.logger.Error("close semantic store", slog.String("error", err.Error()))
		}
	}
}
