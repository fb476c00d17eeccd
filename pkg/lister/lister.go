// Package lister enumerates the objects under a set of prefixes and maps
// each one to the entry name it will have inside the archive.
package lister

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nishanth230499/s3-ui/pkg/match"
	"github.com/nishanth230499/s3-ui/pkg/provider"
)

// ArchiveExt is the extension of objects that are never re-archived.
const ArchiveExt = ".zip"

// Candidate is one object selected for the archive.
type Candidate struct {
	SourceKey    string
	EntryName    string
	Size         int64
	LastModified time.Time
}

// Config configures listing behavior.
type Config struct {
	// Concurrency is the number of prefixes listed in parallel.
	// Default: 4
	Concurrency int

	// RateLimit is the maximum list requests per second.
	// Zero means unlimited.
	RateLimit float64

	// MaxKeys is the page size requested from the provider.
	// Zero uses the provider default.
	MaxKeys int

	// Exclude holds doublestar patterns matched against source keys
	// (e.g. "**/.DS_Store"). Matching objects are skipped.
	Exclude []string
}

// DefaultConfig returns the default lister configuration.
func DefaultConfig() Config {
	return Config{Concurrency: 4}
}

// Summary reports listing totals.
type Summary struct {
	ObjectsListed int64
	Candidates    int
	BytesTotal    int64
	Duration      time.Duration
}

// Lister lists candidates from a provider.
type Lister struct {
	provider provider.Provider
	cfg      Config
	logger   *zap.Logger
	limiter  *rate.Limiter
	exclude  *match.Set
}

// New validates cfg and returns a Lister.
func New(p provider.Provider, cfg Config, logger *zap.Logger) (*Lister, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	exclude, err := match.Compile(cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Lister{provider: p, cfg: cfg, logger: logger, exclude: exclude}
	if cfg.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return l, nil
}

// List drains every page under every prefix and returns the candidates
// keyed by source key. folder determines entry names: the leading
// ParentDepth(folder) key segments are dropped.
//
// Any listing error is fatal and no partial result is returned.
func (l *Lister) List(ctx context.Context, prefixes []string, folder string) (map[string]Candidate, *Summary, error) {
	start := time.Now()
	depth := ParentDepth(folder)

	var (
		mu         sync.Mutex
		candidates = make(map[string]Candidate)
		listed     atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, prefix := range prefixes {
		g.Go(func() error {
			return l.listPrefix(gctx, prefix, func(obj provider.ObjectSummary) error {
				listed.Add(1)
				if !l.selected(obj) {
					return nil
				}
				name, ok := EntryName(obj.Key, depth)
				if !ok {
					return &EntryNameError{Key: obj.Key, Folder: folder}
				}

				mu.Lock()
				candidates[obj.Key] = Candidate{
					SourceKey:    obj.Key,
					EntryName:    name,
					Size:         obj.Size,
					LastModified: obj.LastModified,
				}
				mu.Unlock()
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if err := checkCollisions(candidates); err != nil {
		return nil, nil, err
	}

	summary := &Summary{
		ObjectsListed: listed.Load(),
		Candidates:    len(candidates),
		Duration:      time.Since(start),
	}
	for _, c := range candidates {
		summary.BytesTotal += c.Size
	}

	l.logger.Debug("listing complete",
		zap.Int("prefixes", len(prefixes)),
		zap.Int64("objects_listed", summary.ObjectsListed),
		zap.Int("candidates", summary.Candidates),
		zap.Int64("bytes_total", summary.BytesTotal),
		zap.Duration("duration", summary.Duration),
	)
	return candidates, summary, nil
}

func (l *Lister) listPrefix(ctx context.Context, prefix string, visit func(provider.ObjectSummary) error) error {
	var token string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		res, err := l.provider.List(ctx, provider.ListOptions{
			Prefix:            prefix,
			ContinuationToken: token,
			MaxKeys:           l.cfg.MaxKeys,
		})
		if err != nil {
			return &ListError{Prefix: prefix, Err: err}
		}
		for _, obj := range res.Objects {
			if err := visit(obj); err != nil {
				return err
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return nil
		}
		token = res.ContinuationToken
	}
}

// selected applies the exclusion filter.
func (l *Lister) selected(obj provider.ObjectSummary) bool {
	// Zero-size placeholders and "directory" keys cannot be zip file entries.
	if obj.Size == 0 || strings.HasSuffix(obj.Key, "/") {
		return false
	}
	if strings.EqualFold(path.Ext(obj.Key), ArchiveExt) {
		return false
	}
	return !l.exclude.Match(obj.Key)
}

// ParentDepth is the number of leading key segments that belong to the
// destination folder's parent chain: the count of "/" in folder.
func ParentDepth(folder string) int {
	return len(strings.Split(folder, "/")) - 1
}

// EntryName drops the first depth segments of key. It reports false when
// nothing remains or when any remaining segment is empty, "." or "..":
// such names extract outside the archive root or alias another entry.
func EntryName(key string, depth int) (string, bool) {
	segments := strings.Split(key, "/")
	if len(segments) <= depth {
		return "", false
	}
	rest := segments[depth:]
	for _, seg := range rest {
		if seg == "" || seg == "." || seg == ".." {
			return "", false
		}
	}
	return strings.Join(rest, "/"), true
}

func checkCollisions(candidates map[string]Candidate) error {
	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]string, len(keys))
	for _, k := range keys {
		name := candidates[k].EntryName
		if prev, ok := seen[name]; ok {
			return &EntryCollisionError{EntryName: name, Keys: []string{prev, k}}
		}
		seen[name] = k
	}
	return nil
}
