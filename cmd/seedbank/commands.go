package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kalambet/seedbank/internal/chat"
	"github.com/kalambet/seedbank/internal/config"
	"github.com/kalambet/seedbank/internal/engine"
	"github.com/kalambet/seedbank/internal/ollama"
	"github.com/kalambet/seedbank/internal/pipeline"
	"github.com/kalambet/seedbank/internal/tui"
)

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate records and load them into the vector collection",
	Long: `Generate records with the configured model, validate them, embed a summary
of each one and write it to the collection.

Examples:
  seedbank seed
  seedbank seed --mode append --count 25
  seedbank seed --pull --no-progress`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		count, _ := cmd.Flags().GetInt("count")
		pull, _ := cmd.Flags().GetBool("pull")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if modeFlag == "" {
			modeFlag = cfg.Pipeline.Mode
		}
		mode, err := pipeline.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		if count == 0 {
			count = cfg.Generator.Count
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := ollama.New(cfg.Ollama.BaseURL)
		if pull {
			printStep("Checking models")
			if err := engine.EnsureReady(ctx, client, stderr, cfg.Ollama.GenerateModel, cfg.Ollama.EmbedModel); err != nil {
				return err
			}
		}

		var bar *progressbar.ProgressBar
		var onRecord func(pipeline.Outcome)
		if !noProgress {
			bar = newSeedBar(stderr)
			onRecord = func(pipeline.Outcome) { bar.Add(1) }
		}

		seeder, err := newSeeder(cfg, client, onRecord)
		if err != nil {
			return err
		}

		printStep("Seeding %s (%s, %d records requested)", cfg.Storage.Collection, mode, count)
		report, err := seeder.Seed(ctx, mode, count)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return seedFailure(stderr, err)
		}

		writeReport(stderr, report)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("mode", "", "Write mode: replace or append (default from pipeline.mode)")
	seedCmd.Flags().Int("count", 0, "Number of records to request (default from generator.count)")
	seedCmd.Flags().Bool("pull", false, "Pull missing models before seeding")
	seedCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

// The number of validated records is unknown until generation returns, so
// the bar runs without a maximum.
func newSeedBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(!noColor),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
		progressbar.OptionClearOnFinish(),
	)
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search the collection for records similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 1 {
			return fmt.Errorf("--limit must be at least 1")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		recaller, err := newRecaller(cfg, ollama.New(cfg.Ollama.BaseURL))
		if err != nil {
			return err
		}

		matches, err := recaller.Recall(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			printWarning("No matches in %s", cfg.Storage.Collection)
			return nil
		}
		writeMatches(cmd.OutOrStdout(), matches)
		return nil
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "Maximum number of results")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat with the chat backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			url = cfg.Chat.BaseURL
		}

		session := chat.NewSession(chat.NewClient(url, cfg.ChatTimeout()))
		p := tea.NewProgram(tui.New(session, cfg.ChatTimeout()), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("running chat: %w", err)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().String("url", "", "Chat backend base URL (default from chat.base_url)")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model and store status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}
		showStatus(cmd.Context(), cfg)
		return nil
	},
}

func showStatus(ctx context.Context, cfg config.Config) {
	client := ollama.New(cfg.Ollama.BaseURL)
	if client.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		printStatus("Generate model", "%s", modelState(ctx, client, cfg.Ollama.GenerateModel))
		printStatus("Embed model", "%s", modelState(ctx, client, cfg.Ollama.EmbedModel))
	} else {
		printStatus("Ollama", "not running")
		printStatus("Generate model", "%s", cfg.Ollama.GenerateModel)
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	}

	printStatus("Backend", "%s", cfg.Storage.Backend)
	if cfg.Storage.Backend == "sqlite" {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	} else {
		printStatus("Database", "%s", cfg.Storage.Database)
	}

	recaller, err := newRecaller(cfg, client)
	if err != nil {
		printStatus("Collection", "%s (%v)", cfg.Storage.Collection, err)
		return
	}
	n, err := recaller.Count(ctx)
	switch {
	case err != nil:
		printStatus("Collection", "%s (unreachable: %v)", cfg.Storage.Collection, err)
	case n < 0:
		printStatus("Collection", "%s", cfg.Storage.Collection)
	default:
		printStatus("Collection", "%s (%d documents)", cfg.Storage.Collection, n)
	}
}

func modelState(ctx context.Context, client *ollama.Client, model string) string {
	if client.HasModel(ctx, model) {
		return model
	}
	return model + " (not pulled)"
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("Config file", "%s", config.FilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
