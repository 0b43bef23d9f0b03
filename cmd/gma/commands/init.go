package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-mask-analysis/internal/config"
)

// initAnswers holds the responses of the init form.
type initAnswers struct {
	MaterializeAll bool
	DisableCFD     bool
	OutputFormat   string
	LogLevel       string
	CacheDir       string
	CacheSize      string
	Metrics        bool
	Location       string // "global" or "project"
}

func defaultAnswers() initAnswers {
	def := config.DefaultConfig()
	return initAnswers{
		OutputFormat: string(def.OutputFormat),
		LogLevel:     def.LogLevel,
		CacheDir:     def.CacheDir,
		CacheSize:    strconv.Itoa(def.CacheSize),
		Location:     "project",
	}
}

// toConfig validates the answers and returns the config they describe
// together with the path to save it to.
func (a initAnswers) toConfig() (*config.Config, string, error) {
	cfg := config.DefaultConfig()
	cfg.MaterializeAll = a.MaterializeAll
	cfg.DisableControlFlowDivergence = a.DisableCFD
	cfg.OutputFormat = config.OutputFormat(a.OutputFormat)
	cfg.LogLevel = a.LogLevel
	cfg.CacheDir = a.CacheDir
	cfg.Metrics = a.Metrics

	size, err := strconv.Atoi(a.CacheSize)
	if err != nil {
		return nil, "", fmt.Errorf("cache size %q is not a number", a.CacheSize)
	}
	cfg.CacheSize = size

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}

	var path string
	switch a.Location {
	case "global":
		path = config.GlobalConfigFilePath()
	case "project":
		path = config.ProjectConfigFilePath()
	default:
		return nil, "", fmt.Errorf("unknown config location %q", a.Location)
	}
	return cfg, path, nil
}

func validateCacheSize(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a non-negative number")
	}
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize gma configuration interactively",
		Long: `Guides you through setting up gma configuration step by step.
Creates a config file with analysis, output, logging and cache settings.`,
		Annotations: map[string]string{skipSession: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}
}

func runInit(out io.Writer) error {
	a := defaultAnswers()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Materialize all masks").
				Description("Lower every entry and exit mask instead of only the ones a linearizer needs").
				Value(&a.MaterializeAll),
			huh.NewConfirm().
				Title("Disable control-flow divergence").
				Description("Allow a varying entry block without a mask parameter").
				Value(&a.DisableCFD),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Output format").
				Options(
					huh.NewOption("Text", string(config.OutputText)),
					huh.NewOption("JSON", string(config.OutputJSON)),
				).
				Value(&a.OutputFormat),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&a.LogLevel),
			huh.NewConfirm().
				Title("Print Prometheus metrics after each command").
				Value(&a.Metrics),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Snapshot cache directory (empty disables the cache)").
				Value(&a.CacheDir),
			huh.NewInput().
				Title("Snapshot cache size (entries, 0 disables the cache)").
				Validate(validateCacheSize).
				Value(&a.CacheSize),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Save Configuration").
				Description("Where to save the configuration file?").
				Options(
					huh.NewOption("Project (./.gma/config.yaml)", "project"),
					huh.NewOption("Global (~/.gma/config.yaml)", "global"),
				).
				Value(&a.Location),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	cfg, configPath, err := a.toConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		var overwrite bool
		confirm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Config file exists").
					Description(fmt.Sprintf("Overwrite existing config at %s?", configPath)).
					Affirmative("Overwrite").
					Negative("Cancel").
					Value(&overwrite),
			),
		)
		if err := confirm.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	printPreview(out, cfg, configPath)

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	return nil
}

func printPreview(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, "\n=== Configuration Preview ===")
	fmt.Fprintf(w, "Config path: %s\n", path)
	fmt.Fprintf(w, "Materialize all: %t\n", cfg.MaterializeAll)
	fmt.Fprintf(w, "Disable control-flow divergence: %t\n", cfg.DisableControlFlowDivergence)
	fmt.Fprintf(w, "Output format: %s\n", cfg.OutputFormat)
	fmt.Fprintf(w, "Log level: %s\n", cfg.LogLevel)
	if cfg.CacheEnabled() {
		fmt.Fprintf(w, "Cache: %s (%d entries)\n", cfg.CacheDir, cfg.CacheSize)
	} else {
		fmt.Fprintln(w, "Cache: disabled")
	}
	fmt.Fprintf(w, "Metrics: %t\n", cfg.Metrics)
	fmt.Fprintln(w, "================================")
}
