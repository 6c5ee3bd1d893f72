package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/itai-hania/HFI/internal/browser"
	"github.com/itai-hania/HFI/internal/config"
	"github.com/itai-hania/HFI/internal/database"
	"github.com/itai-hania/HFI/internal/fetch"
	"github.com/itai-hania/HFI/internal/llm"
	"github.com/itai-hania/HFI/internal/pipeline"
	"github.com/itai-hania/HFI/internal/render"
	"github.com/itai-hania/HFI/internal/style"
	"github.com/itai-hania/HFI/internal/translate"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hfi",
	Short:   "Hebrew transcreation of X threads",
	Long:    "hfi collects an X thread through a logged-in browser, downloads its media and rewrites it in Hebrew.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(mediaCmd)
	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(styleCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hfi", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/hfi/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the browser endpoint, LLM provider and glossary.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Threads:")
		fmt.Printf("  Total: %d\n", stats.Threads)
		fmt.Printf("  Translated: %d\n", stats.TranslatedThreads)
		fmt.Printf("  Failed: %d\n", stats.FailedThreads)
		fmt.Println("\nPosts:")
		fmt.Printf("  Total: %d\n", stats.Posts)
		fmt.Printf("  Pending: %d\n", stats.PendingPosts)
		fmt.Printf("  Translated: %d\n", stats.TranslatedPosts)
		fmt.Printf("  Failed: %d\n", stats.FailedPosts)
		fmt.Println("\nStyle:")
		fmt.Printf("  Active examples: %d\n", stats.StyleExamples)
		fmt.Println("\nServices:")
		fmt.Printf("  Browser: %s\n", cfg.Browser.Endpoint)
		fmt.Printf("  Media dir: %s\n", cfg.GetMediaDir())
		return nil
	},
}

// --- thread command ---

var (
	modeFlag    string
	allAuthors  bool
	noMedia     bool
	noTranslate bool
	dryRun      bool
)

var threadCmd = &cobra.Command{
	Use:   "thread <url>",
	Short: "Collect a thread, download its media and translate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := resolveMode()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := browser.Connect(ctx, cfg.Browser.Endpoint, time.Duration(cfg.Browser.CommandTimeout)*time.Second)
		if err != nil {
			return fmt.Errorf("connecting to browser at %s: %w", cfg.Browser.Endpoint, err)
		}
		defer b.Close()

		deps := pipeline.Deps{Browser: b}
		if dryRun || noTranslate {
			// Translation is not run, so skip provider discovery.
			deps.Provider = noProvider{}
		}
		pipe := pipeline.New(cfg, db, deps)
		opts := pipeline.Options{
			Mode:          mode,
			AuthorMatch:   cfg.Traversal.AuthorMatch && !allAuthors,
			SkipMedia:     noMedia,
			SkipTranslate: noTranslate,
		}

		var result *pipeline.Result
		var runErr error
		if dryRun {
			result, runErr = pipe.DryRun(ctx, args[0], opts)
		} else {
			result, runErr = pipe.Run(ctx, args[0], opts)
		}
		printSteps(result)

		if runErr != nil {
			return runErr
		}
		if !dryRun {
			fmt.Printf("\nThread #%d stored. Run 'hfi export %d' to review it.\n", result.ThreadID, result.ThreadID)
		}
		return nil
	},
}

func init() {
	threadCmd.Flags().StringVar(&modeFlag, "mode", "", "Translation mode: consolidated or sequential (default from config)")
	threadCmd.Flags().BoolVar(&allAuthors, "all-authors", false, "Keep replies by other authors instead of stopping at them")
	threadCmd.Flags().BoolVar(&noMedia, "no-media", false, "Do not download media")
	threadCmd.Flags().BoolVar(&noTranslate, "no-translate", false, "Do not translate")
	threadCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without storing anything")
}

// --- translate command ---

var translateCmd = &cobra.Command{
	Use:   "translate <thread-id>",
	Short: "Translate a stored thread again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "thread")
		if err != nil {
			return err
		}
		mode, err := resolveMode()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := pipeline.New(cfg, db, pipeline.Deps{}).RetryTranslation(ctx, id, mode)
		printSteps(result)
		return err
	},
}

func init() {
	translateCmd.Flags().StringVar(&modeFlag, "mode", "", "Translation mode: consolidated or sequential (default from config)")
}

// --- media command ---

var mediaCmd = &cobra.Command{
	Use:   "media <thread-id>",
	Short: "Download the media of a stored thread that is not stored yet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "thread")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := pipeline.New(cfg, db, pipeline.Deps{Provider: noProvider{}}).RedownloadMedia(ctx, id)
		printSteps(result)
		return err
	},
}

// --- threads command ---

var threadsLimit int

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List stored threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		threads, err := db.ListThreads(threadsLimit)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			fmt.Println("No threads yet. Collect one with: hfi thread <url>")
			return nil
		}

		for _, th := range threads {
			preview := ""
			if posts, err := db.GetPosts(th.ID); err == nil && len(posts) > 0 {
				preview = posts[0].Text
			}
			mode := "-"
			if th.Mode != nil {
				mode = *th.Mode
			}
			fmt.Printf("  [%d] %-10s %-12s @%-15s %3d posts  %s\n",
				th.ID, th.Status, mode, th.AuthorHandle, th.PostCount, truncate(preview, 50))
		}
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a stored thread and its posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "thread")
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		th, err := db.GetThread(id)
		if err != nil {
			return err
		}
		if th == nil {
			return fmt.Errorf("thread %d not found", id)
		}
		if err := db.DeleteThread(id); err != nil {
			return err
		}
		fmt.Printf("Deleted thread #%d by @%s. Downloaded media stays in %s\n", id, th.AuthorHandle, cfg.GetMediaDir())
		return nil
	},
}

func init() {
	threadsCmd.Flags().IntVarP(&threadsLimit, "limit", "n", 20, "Maximum threads to list")
	threadsCmd.AddCommand(threadsDeleteCmd)
}

// --- export command ---

var (
	exportHTML bool
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export <thread-id>",
	Short: "Export a thread with its translation as Markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "thread")
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		th, err := db.GetThread(id)
		if err != nil {
			return err
		}
		if th == nil {
			return fmt.Errorf("thread %d not found", id)
		}
		posts, err := db.GetPosts(id)
		if err != nil {
			return err
		}

		var data []byte
		if exportHTML {
			data, err = render.HTML(th, posts)
			if err != nil {
				return err
			}
		} else {
			data = []byte(render.Markdown(th, posts))
		}

		if exportOut == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported thread #%d to %s\n", id, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportHTML, "html", false, "Render HTML instead of Markdown")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write to file instead of stdout")
}

// --- style command ---

var styleCmd = &cobra.Command{
	Use:   "style",
	Short: "Manage Hebrew style examples",
}

var styleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active style examples",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		examples, err := db.ActiveStyleExamples()
		if err != nil {
			return err
		}
		if len(examples) == 0 {
			fmt.Println("No style examples. Add one with: hfi style add")
			return nil
		}

		fmt.Println("Style Examples:")
		fmt.Println()
		for _, e := range examples {
			fmt.Printf("  [%d] %-9s %4d words  +%d/-%d  %s\n",
				e.ID, e.SourceType, e.WordCount, e.ApprovalCount, e.RejectionCount, strings.Join(e.TopicTags, ","))
			fmt.Printf("        %s\n", truncate(e.Content, 60))
		}
		return nil
	},
}

var (
	styleFile string
	styleTags []string
)

var styleAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a Hebrew style example from text or a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := ""
		source := style.SourceManual
		switch {
		case styleFile != "":
			data, err := os.ReadFile(styleFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", styleFile, err)
			}
			content = string(data)
			source = style.SourceFile
		case len(args) == 1:
			content = args[0]
		default:
			return errors.New("provide the example text or --file")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := newImporter(db).Add(context.Background(), content, source, nil, styleTags)
		if err != nil {
			return err
		}
		fmt.Printf("Added style example [%d]\n", id)
		return nil
	},
}

func init() {
	styleAddCmd.Flags().StringVarP(&styleFile, "file", "f", "", "Read the example from a file")
	styleAddCmd.Flags().StringSliceVarP(&styleTags, "tags", "t", nil, "Topic tags (assigned automatically when empty)")
}

var styleImportURLCmd = &cobra.Command{
	Use:   "import-url <url>",
	Short: "Add the readable text of a Hebrew web page as a style example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := newImporter(db).ImportURL(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Added style example [%d] from %s\n", id, args[0])
		return nil
	},
}

var feedLimit int

var styleImportFeedCmd = &cobra.Command{
	Use:   "import-feed <url>",
	Short: "Add Hebrew items of an RSS or Atom feed as style examples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := newImporter(db).ImportFeed(cmd.Context(), args[0], feedLimit)
		if err != nil {
			return err
		}
		fmt.Println("Feed import complete:")
		fmt.Printf("  Imported: %d\n", result.Imported)
		fmt.Printf("  Already stored: %d\n", result.AlreadyHad)
		fmt.Printf("  Skipped: %d\n", result.Skipped)
		return nil
	},
}

func init() {
	styleImportFeedCmd.Flags().IntVarP(&feedLimit, "limit", "n", 10, "Maximum items to import")
}

var styleRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Deactivate a style example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "style example")
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeactivateStyleExample(id); err != nil {
			return err
		}
		fmt.Printf("Removed style example [%d]\n", id)
		return nil
	},
}

var styleFeedbackCmd = &cobra.Command{
	Use:       "feedback <id> <approve|reject>",
	Short:     "Record whether a translation using this example was good",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"approve", "reject"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "style example")
		if err != nil {
			return err
		}
		var approved bool
		switch args[1] {
		case "approve":
			approved = true
		case "reject":
		default:
			return fmt.Errorf("feedback must be approve or reject, got %q", args[1])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RecordStyleFeedback(id, approved); err != nil {
			return err
		}
		fmt.Printf("Recorded %s for style example [%d]\n", args[1], id)
		return nil
	},
}

func init() {
	styleCmd.AddCommand(styleListCmd)
	styleCmd.AddCommand(styleAddCmd)
	styleCmd.AddCommand(styleImportURLCmd)
	styleCmd.AddCommand(styleImportFeedCmd)
	styleCmd.AddCommand(styleRemoveCmd)
	styleCmd.AddCommand(styleFeedbackCmd)
}

// noProvider stands in when a command never completes text.
type noProvider struct{}

func (noProvider) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("no completion provider")
}

func (noProvider) IsConfigured() bool { return false }

func newImporter(db *database.DB) *style.Importer {
	return style.NewImporter(db, fetch.NewContentFetcher(30*time.Second), style.NewTagger(pipeline.NewProvider(cfg)))
}

func resolveMode() (translate.Mode, error) {
	if modeFlag != "" {
		return translate.ParseMode(modeFlag)
	}
	return translate.ParseMode(cfg.Translation.Mode)
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s ID: %s", what, raw)
	}
	return id, nil
}

// truncate shortens s to width terminal columns on one line.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

func printSteps(result *pipeline.Result) {
	if result == nil {
		return
	}
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		}
		if step.Summary != "" {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "hfi.db")
	return database.Open(dbPath)
}
