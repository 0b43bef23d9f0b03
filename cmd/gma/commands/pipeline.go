package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/l3aro/go-mask-analysis/internal/scanner"
	"github.com/l3aro/go-mask-analysis/pkg/cache"
	"github.com/l3aro/go-mask-analysis/pkg/fixture"
	"github.com/l3aro/go-mask-analysis/pkg/mask"
)

// ErrNondeterministic is returned when two builds of the same fixture
// produce different mask graphs.
var ErrNondeterministic = errors.New("mask graph is not deterministic")

// result is one analyzed fixture.
type result struct {
	fx   *fixture.Fixture
	a    *mask.Analysis
	m    *mask.Materializer
	took time.Duration
}

// build parses data and builds its mask graph, materializing it when
// materialize is set.
func (s *session) build(path string, data []byte, materialize bool) (*result, error) {
	fx, err := fixture.Parse(path, data)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	a := mask.NewAnalysis(fx.Func, fx.Loops, fx.Div,
		mask.WithLogger(s.logger),
		mask.WithDisableControlFlowDivergence(s.cfg.DisableControlFlowDivergence),
	)
	if err := a.Analyze(); err != nil {
		return nil, err
	}
	r := &result{fx: fx, a: a}
	if materialize {
		r.m = mask.Generate(a, fx.Div, mask.GenerateOptions{MaterializeAll: s.cfg.MaterializeAll})
	}
	r.took = time.Since(start)
	return r, nil
}

// run analyzes the fixture at path, records statistics and checks the
// resulting fingerprint against a rebuild and the snapshot cache.
func (s *session) run(path string, materialize bool) (*result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.stats.Failed()
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	r, err := s.build(path, data, materialize)
	if err != nil {
		s.stats.Failed()
		return nil, err
	}
	s.stats.Analyzed(r.a.Stats(), r.took)
	s.logger.Debug("analyzed fixture", "path", path, "nodes", r.a.NumNodes(), "took", r.took)

	fp := r.a.Fingerprint()
	if s.checkDeterminism {
		again, err := s.build(path, data, materialize)
		if err != nil {
			return nil, err
		}
		if got := again.a.Fingerprint(); got != fp {
			s.stats.Mismatch()
			return nil, fmt.Errorf("%s: %w (%016x != %016x)", path, ErrNondeterministic, fp, got)
		}
	}

	if err := s.checkCache(path, data, materialize, r.a, fp); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *session) cacheKey(data []byte, materialize bool) string {
	mode := "analyze"
	if materialize {
		mode = "materialize"
	}
	return cache.Key(data, mode,
		strconv.FormatBool(s.cfg.MaterializeAll),
		strconv.FormatBool(s.cfg.DisableControlFlowDivergence),
	)
}

func (s *session) checkCache(path string, data []byte, materialize bool, a *mask.Analysis, fp uint64) error {
	if s.cache == nil {
		return nil
	}
	key := s.cacheKey(data, materialize)
	e, hit := s.cache.Get(key)
	s.stats.CacheLookup(hit)
	if hit {
		if e.Fingerprint == fp {
			return nil
		}
		s.stats.Mismatch()
		if s.checkDeterminism {
			return fmt.Errorf("%s: %w (cached %016x, got %016x)", path, ErrNondeterministic, e.Fingerprint, fp)
		}
		s.logger.Warn("mask graph differs from cached snapshot", "path", path, "key", key)
	}
	if err := s.cache.Set(key, a.Snapshot()); err != nil {
		return fmt.Errorf("caching snapshot of %s: %w", path, err)
	}
	s.dirty = true
	return nil
}

// expandPaths replaces directories with the fixtures below them.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := scanner.Scan(arg)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", arg, err)
		}
		for _, f := range files {
			paths = append(paths, f.FullPath)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no fixtures found")
	}
	return paths, nil
}
