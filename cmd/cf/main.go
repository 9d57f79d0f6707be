package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"civicflow/internal/app"
	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/domain"
	"civicflow/internal/repo"
	"civicflow/internal/scheduler"
	"civicflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "CivicFlow CLI",
	Long: `CivicFlow tracks civic issues from report to fix.
- Issues move Pending -> Verified -> In Progress -> Fixed -> Solved.
- Accepting an issue starts a countdown; if no fix is reported in time the issue goes back to Pending.
- Admins confirm fixes; the local user earns points and badges for issues they solved.
- Every change lands in the event log, view it with 'cf log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		return checkActorID(viper.GetString("actor-id"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CIVICFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (defaults to actors.local_user)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{
		Use:   "issue",
		Short: "Report and work on issues",
	}
	iss.AddCommand(issueSubmitCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueShowCmd())
	iss.AddCommand(issueActionCmd("verify", "Verify a pending issue", func(string) domain.Action { return domain.Verify{} }))
	iss.AddCommand(issueActionCmd("accept", "Accept an issue and start the countdown", func(string) domain.Action { return domain.Accept{} }))
	iss.AddCommand(issueActionCmd("fixed", "Report your accepted issue as fixed", func(note string) domain.Action { return domain.ReportFixed{Note: note} }))
	iss.AddCommand(issueActionCmd("confirm", "Confirm a fix and close the issue (admin)", func(string) domain.Action { return domain.ConfirmSolved{} }))
	iss.AddCommand(issueDeleteCmd())
	iss.AddCommand(issueSupportCmd())
	iss.AddCommand(issueRequestVerifyCmd())
	return iss
}

func issueSubmitCmd() *cobra.Command {
	var p app.IssuePayload
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Report a new issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p.Reporter = actorID(ws)
				if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
					p.Coordinates = &domain.Coordinates{Lat: lat, Lng: lng}
				}
				issue, err := ws.Core.SubmitIssue(ctx, p)
				if err != nil {
					return err
				}
				return printIssue(ws, issue)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "issue id (generated when empty)")
	cmd.Flags().StringVar(&p.Category, "category", "", "category, e.g. Roads")
	cmd.Flags().StringVar(&p.Location, "location", "", "location label")
	cmd.Flags().StringVar(&p.Address, "address", "", "street address")
	cmd.Flags().StringVar(&p.Description, "description", "", "what is wrong")
	cmd.Flags().StringVar(&p.Image, "image", "", "image URL")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func issueListCmd() *cobra.Command {
	var status, category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var issues []domain.Issue
				for _, issue := range ws.Core.Issues() {
					if status != "" && !strings.EqualFold(string(issue.Status), status) {
						continue
					}
					if category != "" && !strings.EqualFold(issue.Category, category) {
						continue
					}
					issues = append(issues, issue)
				}
				if viper.GetBool("json") {
					if issues == nil {
						issues = []domain.Issue{}
					}
					return printJSON(issues)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Category", "Where", "Reporter", "Accepted By", "Likes"})
				for _, issue := range issues {
					tw.AppendRow(table.Row{
						issue.ID, issue.Status, issue.Category,
						firstNonEmpty(issue.Address, issue.Location), issue.Reporter,
						deref(issue.AcceptedBy), issue.Likes,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue and its countdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				issue, err := ws.Core.Issue(args[0])
				if err != nil {
					return err
				}
				return printIssue(ws, issue)
			})
		},
	}
}

func issueActionCmd(use, short string, build func(note string) domain.Action) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Core.ApplyAction(ctx, args[0], actorID(ws), build(note))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s is now %s\n", res.Issue.ID, res.Issue.Status)
				for _, n := range res.Notifications() {
					fmt.Printf("  %s: %s\n", n.Title, n.Message)
				}
				if award, ok := res.Award(); ok {
					fmt.Printf("  +%d points for %s\n", award.Points, award.ActorID)
				}
				return nil
			})
		},
	}
	if use == "fixed" {
		cmd.Flags().StringVar(&note, "note", "", "what was done")
	}
	return cmd
}

func issueDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an issue (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Core.DeleteIssue(ctx, args[0], actorID(ws)); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func issueSupportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "support <id>",
		Short: "Support an issue, or withdraw support",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				issue, err := ws.Core.ToggleSupport(ctx, args[0], actorID(ws))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issue)
				}
				fmt.Printf("%s has %d supporter(s)\n", issue.ID, issue.Likes)
				return nil
			})
		},
	}
}

func issueRequestVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-verify <id>",
		Short: "Ask residents to verify an issue (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				n, err := ws.Core.RequestVerification(ctx, args[0], actorID(ws))
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notify",
		Short: "Read notifications",
	}
	n.AddCommand(notifyListCmd())
	n.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Core.MarkRead(ctx, args[0])
			})
		},
	})
	n.AddCommand(&cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				fmt.Printf("marked %d notification(s) read\n", ws.Core.MarkAllRead(ctx))
				return nil
			})
		},
	})
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				notes := []domain.Notification{}
				for _, n := range ws.Core.Notifications() {
					if unread && !n.Unread {
						continue
					}
					notes = append(notes, n)
				}
				if viper.GetBool("json") {
					return printJSON(notes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "ID", "Title", "Message", "Issue", "When"})
				for _, n := range notes {
					mark := ""
					if n.Unread {
						mark = "*"
					}
					tw.AppendRow(table.Row{mark, n.ID, n.Title, n.Message, n.RelatedIssueID, n.CreatedAt.Local().Format(time.Kitchen)})
				}
				tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d unread", ws.Core.UnreadCount())})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	return cmd
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "profile",
		Short: "Local user profile",
	}
	p.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show points, counters and badges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				prof := ws.Core.Profile()
				if viper.GetBool("json") {
					return printJSON(prof)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"Actor", prof.ActorID},
					{"Name", prof.FullName},
					{"Points", prof.Points},
					{"Posted", prof.PostedCount},
					{"Accepted", prof.AcceptedCount},
					{"Solved", prof.SolvedCount},
				})
				for _, b := range prof.Badges {
					tw.AppendRow(table.Row{"Badge", fmt.Sprintf("%s (%s)", b.Name, b.Tier)})
				}
				tw.Render()
				return nil
			})
		},
	})
	p.AddCommand(profileInitCmd())
	return p
}

func profileInitCmd() *cobra.Command {
	var fullName, email string
	var posted, accepted int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set the local profile's name and starting counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				prof := ws.Core.Profile()
				if cmd.Flags().Changed("full-name") {
					prof.FullName = fullName
				}
				if cmd.Flags().Changed("email") {
					prof.Email = email
				}
				if cmd.Flags().Changed("posted") {
					prof.PostedCount = posted
				}
				if cmd.Flags().Changed("accepted") {
					prof.AcceptedCount = accepted
				}
				if err := ws.Core.SetProfile(ctx, prof); err != nil {
					return err
				}
				return printJSONOrTable(ws.Core.Profile())
			})
		},
	}
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().IntVar(&posted, "posted", 0, "issues posted so far")
	cmd.Flags().IntVar(&accepted, "accepted", 0, "issues accepted so far")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Revert accepted issues whose countdown ran out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				sched := scheduler.New(ws.Core, ws.Core.Engine(), ws.Config.Lifecycle.SweepInterval)
				sched.Logger = newLogger()
				n := sched.Sweep(ctx)
				if viper.GetBool("json") {
					return printJSON(map[string]int{"reverted": n})
				}
				fmt.Printf("reverted %d issue(s)\n", n)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: submissions, transitions, notifications, awards and syncs from other contexts.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Repo.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, strings.TrimSuffix(e.EntityKind+":"+e.EntityID, ":"), e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "civicflow.yml sets the acceptance countdown, admins, the local user and the sync transport. Defaults apply when it is absent.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
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
		Short: "Validate civicflow.yml",
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
	var appID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default civicflow.yml and a dev JWT secret to .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(appID)), 0o644); err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			if os.Getenv("CIVICFLOW_JWT_SECRET") == "" {
				if err := setEnvValue(envPath, "CIVICFLOW_JWT_SECRET", uuid.NewString()); err != nil {
					return err
				}
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&appID, "app-id", "civicflow", "application id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the revert scheduler, sync and webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := newLogger()
			ws, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer ws.Close()

			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowActorHeader,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("CIVICFLOW_JWT_SECRET is required for bearer auth (run cf config init, or pass --allow-actor-header)")
			}
			handler, err := server.New(server.Config{Core: ws.Core, Repo: &ws.Repo, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			stopSync, err := ws.StartSync(ctx, nil)
			if err != nil {
				return fmt.Errorf("start sync: %w", err)
			}
			if stopSync != nil {
				defer stopSync()
			}
			unsubscribe := ws.Core.OnNotification(func(n domain.Notification) {
				logger.Printf("notify: %s: %s", n.Title, n.Message)
			})
			defer unsubscribe()

			g, gctx := errgroup.WithContext(ctx)
			sched := scheduler.New(ws.Core, ws.Core.Engine(), ws.Config.Lifecycle.SweepInterval)
			sched.Logger = logger
			g.Go(func() error {
				stopSched := sched.Start(gctx)
				<-gctx.Done()
				stopSched()
				return nil
			})
			if d := server.NewWebhookDispatcher(ws.Repo, ws.Config, logger); d != nil {
				g.Go(func() error { return d.Run(gctx) })
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				fmt.Printf("Serving CivicFlow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local development)")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func actorID(ws *app.Workspace) string {
	if id := strings.TrimSpace(viper.GetString("actor-id")); id != "" {
		return id
	}
	return ws.Config.Actors.LocalUser
}

// checkActorID rejects identities that no person may act as.
func checkActorID(id string) error {
	if strings.TrimSpace(id) == domain.SystemActor {
		return fmt.Errorf("actor id %q is reserved", domain.SystemActor)
	}
	return nil
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func loadDotEnv(workspace string) error {
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func printIssue(ws *app.Workspace, issue domain.Issue) error {
	eng := ws.Core.Engine()
	deadline, hasDeadline := eng.Deadline(issue)
	if viper.GetBool("json") {
		out := map[string]any{"issue": issue}
		if hasDeadline {
			out["deadline"] = deadline
			out["remaining_seconds"] = int64(eng.Remaining(issue, time.Now()) / time.Second)
		}
		return printJSON(out)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", issue.ID},
		{"Status", issue.Status},
		{"Verified", issue.Verified},
		{"Category", issue.Category},
		{"Where", firstNonEmpty(issue.Address, issue.Location)},
		{"Description", issue.Description},
		{"Reporter", issue.Reporter},
		{"Supporters", issue.Likes},
	})
	if issue.AcceptedBy != nil {
		tw.AppendRow(table.Row{"Accepted By", *issue.AcceptedBy})
	}
	if hasDeadline {
		remaining := eng.Remaining(issue, time.Now()).Round(time.Second)
		tw.AppendRow(table.Row{"Deadline", fmt.Sprintf("%s (%s left)", deadline.Local().Format(time.TimeOnly), remaining)})
	}
	if issue.SolvedBy != nil {
		tw.AppendRow(table.Row{"Solved By", *issue.SolvedBy})
	}
	tw.Render()
	return nil
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
