// Package commands provides the CLI commands for the go-mask-analysis tool.
package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-mask-analysis/internal/config"
	"github.com/l3aro/go-mask-analysis/internal/log"
	"github.com/l3aro/go-mask-analysis/internal/stats"
	"github.com/l3aro/go-mask-analysis/pkg/cache"
)

// Version and BuildTime are set by main from linker flags.
var (
	Version   = "dev"
	BuildTime = ""
)

// skipSession marks commands that run without loading configuration.
const skipSession = "skip-session"

// session is the state shared by the commands of one invocation.
type session struct {
	cfg    *config.Config
	logger log.Logger
	cache  *cache.LRUCache
	stats  *stats.Recorder
	dirty  bool

	configPath       string
	verbose          bool
	jsonOutput       bool
	metrics          bool
	noCache          bool
	checkDeterminism bool
	disableCFD       bool
	materializeAll   bool
}

func (s *session) cachePath() string {
	return filepath.Join(s.cfg.CacheDir, cache.FileName)
}

// open loads configuration, applies flag overrides and opens the cache.
func (s *session) open(cmd *cobra.Command) error {
	var err error
	if s.configPath != "" {
		s.cfg, err = config.LoadFromFile(s.configPath)
	} else {
		s.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("json") {
		s.cfg.OutputFormat = config.OutputText
		if s.jsonOutput {
			s.cfg.OutputFormat = config.OutputJSON
		}
	}
	if flags.Changed("metrics") {
		s.cfg.Metrics = s.metrics
	}
	if flags.Changed("disable-control-flow-divergence") {
		s.cfg.DisableControlFlowDivergence = s.disableCFD
	}
	if flags.Changed("materialize-all") {
		s.cfg.MaterializeAll = s.materializeAll
	}

	level := s.cfg.Level()
	if s.verbose {
		level = log.DebugLevel
	}
	s.logger = log.New(log.LoggerConfig{
		Level:      level,
		JSONOutput: s.cfg.JSONLogs,
		Output:     cmd.ErrOrStderr(),
	})
	s.stats = stats.New()

	if s.noCache || !s.cfg.CacheEnabled() {
		return nil
	}
	s.cache = cache.New(cache.Options{
		MaxSize: s.cfg.CacheSize,
		OnEvict: func(key string, e *cache.Entry) {
			s.logger.Debug("evicted snapshot", "key", key, "function", e.Snapshot.Function)
		},
	})
	if err := cache.LoadFromFile(s.cache, s.cachePath()); err != nil {
		s.logger.Warn("ignoring unreadable snapshot cache", "path", s.cachePath(), "error", err)
		s.cache.Clear()
	}
	return nil
}

// close persists the cache and prints metrics.
func (s *session) close(out io.Writer) error {
	if s.cache != nil && s.dirty {
		if err := cache.PersistToFile(s.cache, s.cachePath()); err != nil {
			return fmt.Errorf("saving snapshot cache: %w", err)
		}
		s.logger.Debug("saved snapshot cache", "path", s.cachePath(), "entries", s.cache.Len())
	}
	if s.cfg.Metrics {
		s.stats.WritePrometheus(out)
	}
	return nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	s := &session{}

	root := &cobra.Command{
		Use:   "gma",
		Short: "go-mask-analysis - Control-flow mask analysis for SPMD vectorization",
		Long: `go-mask-analysis builds mask graphs for IR fixtures and lowers them to
boolean mask values.

Commands:
  analyze      Build and print the mask graph of fixtures
  materialize  Lower the masks a linearizer needs and print the function
  loops        Show the loop forest with loop and exit masks
  init         Create a configuration file interactively
  version      Print version information

Use "gma [command] --help" for more information about a command.`,
		SilenceUsage: true,
		Version:      Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSession] != "" {
				return nil
			}
			return s.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if s.cfg == nil {
				return nil
			}
			return s.close(cmd.OutOrStdout())
		},
	}
	root.SetVersionTemplate(`gma version {{.Version}}
`)

	pf := root.PersistentFlags()
	pf.StringVar(&s.configPath, "config", "", "Config file path")
	pf.BoolVarP(&s.verbose, "verbose", "V", false, "Debug logging")
	pf.BoolVarP(&s.jsonOutput, "json", "j", false, "Output as JSON")
	pf.BoolVar(&s.metrics, "metrics", false, "Print Prometheus metrics after the command")
	pf.BoolVar(&s.noCache, "no-cache", false, "Do not read or write the snapshot cache")
	pf.BoolVar(&s.disableCFD, "disable-control-flow-divergence", false, "Allow a varying entry block without a mask parameter")

	root.AddCommand(newAnalyzeCmd(s))
	root.AddCommand(newMaterializeCmd(s))
	root.AddCommand(newLoopsCmd(s))
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
