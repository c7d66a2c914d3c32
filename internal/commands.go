package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/notesearch/internal/mcpserver"
	"github.com/starford/notesearch/internal/search"
)

// Build rebuilds both indexes once, writing progress lines to out.
func Build(ctx context.Context, out io.Writer, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	s, err := openStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.BuildIndexes(ctx, func(p search.BuildProgress) {
		fmt.Fprintf(out, "%-8s %d/%d\n", p.Source, p.Done, p.Total)
	})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	fmt.Fprintf(out, "indexed %d notes (fulltext), %d notes (semantic)\n", res.FullText, res.Semantic)
	return nil
}

// Search runs one merged query and prints the response as JSON. The indexes
// are built first if they have never been built.
func Search(ctx context.Context, out io.Writer, query string, limit int, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	s, err := openStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ensureBuilt(ctx); err != nil {
		return err
	}
	resp, err := s.svc.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return writeJSON(out, resp)
}

// SearchInteractive reads queries line by line from in, as typed, and prints
// only the responses that are still current once their debounce expires.
func SearchInteractive(ctx context.Context, in io.Reader, out io.Writer, limit int, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	s, err := openStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ensureBuilt(ctx); err != nil {
		return err
	}
	if limit <= 0 {
		limit = app.config.Search.DefaultLimit
	}

	var (
		mu        sync.Mutex
		delivered string
		closed    bool
	)
	d := search.NewDebouncer(ctx, s.coord, app.config.Search.Debounce, limit, func(resp search.Response) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		delivered = resp.Query
		if err := writeJSON(out, resp); err != nil {
			logger.Warn("search: write failed", slog.String("error", err.Error()))
		}
	})

	var last string
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" {
			last = q
			d.Submit(q)
		}
	}
	d.Stop()
	if err := sc.Err(); err != nil {
		return err
	}

	// Input ended: answer the final query now unless it was already printed.
	mu.Lock()
	closed = true
	pending := last != "" && delivered != last
	mu.Unlock()
	if !pending {
		return nil
	}
	resp, err := s.svc.Search(ctx, last, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return writeJSON(out, resp)
}

// Status prints the status of both indexes as JSON.
func Status(ctx context.Context, out io.Writer, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	s, err := openStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.svc.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return writeJSON(out, st)
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	s, err := openStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.fulltext.RebuildInBackground() {
		logger.Info("mcp: full-text index refresh started")
	}
	logger.Info("mcp: serving on stdio")
	return mcpserver.New(s.svc, app.version).ServeStdio()
}

// ensureBuilt runs a blocking build when either index has never been built.
func (s *stack) ensureBuilt(ctx context.Context) error {
	_, ftBuilt, err := s.fulltext.LastBuildTime(ctx)
	if err != nil {
		return err
	}
	_, semBuilt := s.semantic.LastBuildTime()
	if ftBuilt && semBuilt {
		return nil
	}
	s.logger.Info("building indexes before first search")
	if _, err := s.svc.BuildIndexes(ctx, nil); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
