package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"briefline/internal/alignment"
	"briefline/internal/app"
	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/logging"
	"briefline/internal/migrate"
	"briefline/internal/policy"
	"briefline/internal/repo"
	"briefline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Briefline CLI",
	Long: `Briefline takes marketing briefs from club managers through validation and production.
Core concepts:
- Workspace: the directory holding briefline.db; policy configuration is stored in the DB and imported explicitly.
- Brief: a request for marketing material; draft -> submitted -> approved/rejected/changes_requested, then production.
- Policy: rules evaluated on every brief (budget, deadline, context, alignment) that flag auto-rejects and owner approvals.
- Alignment: a 0-100 score of how well a brief fits its brand strategy keywords.
- Task: the production work item created on approval; queued -> in_progress -> in_review -> approved -> delivered.
- Event log: audit trail of every mutation, view with 'bl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRIEFLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "user id the command acts as")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(briefCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath, seedConfig string
	var webhookInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BRIEFLINE_JWT_SECRET is required for bearer auth")
			}
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(cmd.Context(), repo.Repo{DB: conn}, seedConfig)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, log)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{JWTSecret: secret}})
			if err != nil {
				return err
			}
			dispatcher := server.NewWebhookDispatcher(e)
			if webhookInterval > 0 {
				dispatcher.Interval = webhookInterval
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				log.Info("serving briefline API", zap.String("addr", addr), zap.String("base_path", basePath))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return dispatcher.Run(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&seedConfig, "seed-config", "", "YAML config stored when the DB has none")
	cmd.Flags().DurationVar(&webhookInterval, "webhook-interval", 0, "webhook poll interval")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Apply(cmd.Context(), conn)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"schema_version": version, "db": db.Path(viper.GetString("workspace"))})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage the stored policy configuration"}
	cfgCmd.AddCommand(configImportCmd())
	cfgCmd.AddCommand(configShowCmd())
	return cfgCmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import policy config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, nil, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored policy config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.LoadConfig(ctx)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load regions, brands, clubs, templates and users from a YAML fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			fx, err := parseFixtures(data)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := loadFixtures(ctx, r, fx, time.Now().UTC())
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML fixture")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func briefCmd() *cobra.Command {
	b := &cobra.Command{Use: "brief", Short: "Inspect briefs"}
	b.AddCommand(briefListCmd())
	b.AddCommand(briefShowCmd())
	b.AddCommand(briefCheckCmd())
	return b
}

func briefListCmd() *cobra.Command {
	var opts engine.BriefListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List briefs visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = viper.GetString("actor-id")
				briefs, err := e.ListBriefs(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(briefs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Code", "Title", "Club", "Status", "Priority", "Deadline"})
				for _, b := range briefs {
					tw.AppendRow(table.Row{b.Code, b.Title, b.ClubID, b.Status, b.Priority, b.Deadline.Format("2006-01-02")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.ClubID, "club", "", "club filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")
	return cmd
}

func briefShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <brief-id>",
		Short: "Show a brief with its decision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				b, err := e.GetBrief(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				approvals, err := e.ListApprovals(ctx, b.ID, actorID)
				if err != nil {
					return err
				}
				return printJSON(struct {
					Brief     domain.Brief      `json:"brief"`
					Approvals []domain.Approval `json:"approvals"`
				}{b, approvals})
			})
		},
	}
}

func briefCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <brief-id>",
		Short: "Evaluate the policy rules for a brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CheckBrief(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderPolicy(res)
				return nil
			})
		},
	}
}

func renderPolicy(res policy.Result) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Rule", "Severity", "Passed", "Message"})
	for _, r := range res.Rules {
		tw.AppendRow(table.Row{r.ID, r.Severity, r.Passed, r.Message})
	}
	tw.AppendFooter(table.Row{"auto approve", strconv.FormatBool(res.CanAutoApprove), "owner", strconv.FormatBool(res.RequiresOwnerApproval)})
	tw.Render()
}

func scoreCmd() *cobra.Command {
	var brandID, title, text string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score text against a brand strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg, err := e.LoadConfig(ctx)
				if err != nil {
					return err
				}
				res := alignment.Scorer{Config: cfg}.Score(brandID, title, text)
				if viper.GetBool("json") || !res.Applicable {
					return printJSON(res)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Keyword", "Weight"})
				for _, m := range res.Matches {
					tw.AppendRow(table.Row{m.Keyword, m.Weight})
				}
				tw.AppendFooter(table.Row{res.Label, res.Score})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brandID, "brand", "", "brand id")
	cmd.Flags().StringVar(&title, "title", "", "brief title")
	cmd.Flags().StringVar(&text, "context", "", "brief context")
	_ = cmd.MarkFlagRequired("brand")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("BRIEFLINE_JWT_SECRET is required to sign tokens")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetUser(ctx, nil, userID); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("unknown user %s", userID)
					}
					return err
				}
				token, err := server.SignToken(secret, userID, ttl, time.Now())
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"), viper.GetString("log-format"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := app.ResolveConfig(ctx, r, "")
		if err != nil {
			return err
		}
		log, err := newLogger()
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg, log))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
