package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"careerline/internal/app"
	"careerline/internal/config"
	"careerline/internal/engine"
	"careerline/internal/mcp"
	"careerline/internal/repo"
	"careerline/internal/server"
	"careerline/internal/story"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "careerline CLI",
	Long: `careerline turns work journal entries into interview-ready career stories.
Core concepts:
- Entry: a journal entry you wrote, linked to tool activity (pull requests, tickets, meetings).
- Analyze: detect the entry's archetype (firefighter, architect, ...) and get interview questions.
- Generate: answer the questions and get a story in a framework such as STAR or CARL,
  with every section backed by evidence and a score out of 9.5.
- Workspace: the .careerline directory holding the database; careerline.yml holds settings.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CAREERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "local-user", "user id that owns entries and stories")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging on stderr")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(entryCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func entryCmd() *cobra.Command {
	entry := &cobra.Command{
		Use:   "entry",
		Short: "Manage journal entries",
		Long:  "Entries are the raw material of stories. Import them with their tool activity from a YAML or JSON fixture.",
	}
	entry.AddCommand(entryImportCmd())
	entry.AddCommand(entryListCmd())
	return entry
}

func entryImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import activities and entries from a fixture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			fixture, err := engine.DecodeFixture(data)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Import(ctx, fixture, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported %d activities and %d entries\n", res.Activities, len(res.EntryIDs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to fixture (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func entryListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListEntries(ctx, viper.GetString("user"), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Activities", "Created"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.Title, len(e.ActivityIDs), e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func storyCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "story",
		Short: "Promote entries into career stories",
		Long:  "Run analyze to get the interview, answer it in a YAML file, then generate the story. Generate always saves a new story.",
	}
	st.AddCommand(storyAnalyzeCmd())
	st.AddCommand(storyGenerateCmd())
	st.AddCommand(storyListCmd())
	st.AddCommand(storyShowCmd())
	return st
}

func storyAnalyzeCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "analyze <entry-id>",
		Short: "Detect the archetype and print interview questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Analyze(ctx, engine.AnalyzeInput{EntryID: args[0], UserID: viper.GetString("user"), Mode: mode})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Entry: %s (%s)\n", res.JournalEntry.Title, res.JournalEntry.ID)
				fmt.Printf("Archetype: %s (confidence %.2f)\n", res.Archetype.Detected, res.Archetype.Confidence)
				fmt.Printf("  %s\n", res.Archetype.Reasoning)
				for _, alt := range res.Archetype.Alternatives {
					fmt.Printf("  also: %s (%.2f)\n", alt.Archetype, alt.Confidence)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Phase", "Question", "Options"})
				for _, q := range res.Questions {
					tw.AppendRow(table.Row{q.ID, q.Phase, q.Question, strings.Join(q.Options, " | ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "full or quick (defaults to promotion.question_mode)")
	return cmd
}

func storyGenerateCmd() *cobra.Command {
	var archetype, framework, answersPath string
	cmd := &cobra.Command{
		Use:   "generate <entry-id>",
		Short: "Generate, score and save a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers := map[string]story.WizardAnswer{}
			if answersPath != "" {
				var err error
				if answers, err = readAnswers(answersPath); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Generate(ctx, engine.GenerateInput{
					EntryID:   args[0],
					UserID:    viper.GetString("user"),
					Archetype: archetype,
					Framework: framework,
					Answers:   answers,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				s := res.Story
				fmt.Printf("%s\n%s\n\n", s.Title, s.Hook)
				for _, key := range story.Framework(s.Framework).Sections() {
					fmt.Printf("[%s] %s\n", strings.ToUpper(key), s.Sections[key].Summary)
				}
				fmt.Printf("\nScore: %.1f (%s)\n", res.Evaluation.Score, s.GeneratedBy)
				fmt.Println(res.Evaluation.CoachComment)
				for _, sug := range res.Evaluation.Suggestions {
					fmt.Printf("- %s\n", sug)
				}
				fmt.Printf("Saved story %s\n", s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&archetype, "archetype", "", "story archetype (see analyze)")
	cmd.Flags().StringVar(&framework, "framework", "STAR", "STAR, STARL, CAR, PAR, SAR, SOAR, SHARE or CARL")
	cmd.Flags().StringVar(&answersPath, "answers", "", "YAML or JSON file of answers keyed by question id")
	_ = cmd.MarkFlagRequired("archetype")
	return cmd
}

func storyListCmd() *cobra.Command {
	var f repo.StoryFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.UserID = viper.GetString("user")
				stories, err := a.Engine.ListStories(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stories)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Entry", "Title", "Framework", "Archetype", "Score", "Created"})
				for _, s := range stories {
					tw.AppendRow(table.Row{s.ID, s.EntryID, s.Title, s.Framework, s.Archetype, fmt.Sprintf("%.1f", s.Score), s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntryID, "entry", "", "entry id filter")
	cmd.Flags().StringVar(&f.Framework, "framework", "", "framework filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max stories")
	return cmd
}

func storyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <story-id>",
		Short: "Show a story and its evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				detail, err := a.Engine.GetStory(ctx, args[0], viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				s := detail.Story
				fmt.Printf("%s [%s/%s] score %.1f\n%s\n\n", s.Title, s.Framework, s.Archetype, s.Score, s.Hook)
				for _, key := range story.Framework(s.Framework).Sections() {
					fmt.Printf("[%s] %s\n", strings.ToUpper(key), s.Sections[key].Summary)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Section", "Type", "Label", "Role", "Annotation"})
				for _, src := range detail.Sources {
					label := src.Label
					if label == "" && src.ActivityID != nil {
						label = *src.ActivityID
					}
					tw.AppendRow(table.Row{src.SortOrder, src.SectionKey, src.SourceType, label, src.Role, src.Annotation})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "careerline.yml sets promotion limits, the optional text provider and the API server. Missing keys use defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate careerline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default careerline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			reg := prometheus.NewRegistry()
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), Logger: logger, Registerer: reg})
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:          os.Getenv(a.Config.Server.JWTSecretEnv),
				AllowDevUserHeader: a.Config.Server.AllowDevUserHeader,
				Logger:             logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowDevUserHeader {
				return fmt.Errorf("%s is required for bearer auth", a.Config.Server.JWTSecretEnv)
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: a.Config.Server.BasePath,
				Auth:     authCfg,
				Logger:   logger,
				Gatherer: reg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving careerline API",
				zap.String("addr", addr),
				zap.String("base_path", a.Config.Server.BasePath),
				zap.Bool("provider", a.Engine.Provider != nil))
			fmt.Printf("Serving careerline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, a.Config.Server.BasePath, a.Config.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve careerline tools over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			a, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()
			return mcp.NewServer(a.Engine, viper.GetString("user"), version, logger).Run(cmd.Context())
		},
	}
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if viper.GetBool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func readAnswers(path string) (map[string]story.WizardAnswer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("answers %s: %w", path, err)
	}
	return story.AnswersFromAny(raw), nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
