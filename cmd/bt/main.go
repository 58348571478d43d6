package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bitacora/internal/app"
	"bitacora/internal/config"
	"bitacora/internal/db"
	"bitacora/internal/domain"
	"bitacora/internal/engine"
	"bitacora/internal/feed"
	"bitacora/internal/migrate"
	"bitacora/internal/repo"
	"bitacora/internal/server"
	"bitacora/internal/stats"
)

var rootCmd = &cobra.Command{
	Use:   "bt",
	Short: "Bitacora CLI",
	Long: `Bitacora tracks manufacturing work orders with a per-job message ledger and
provable read acknowledgments.
Core concepts:
- Ledger: the append-only message history opened for one work order (OT). One
  ledger per OT, enforced with trim+casefold matching.
- Message: one immutable entry; authors get their own read receipt eagerly.
- Receipt: a timestamped per-actor acknowledgment; recording one twice is a
  no-op, never a duplicate.
- Sector: one of the seven fixed organizational sectors; completion is
  reported per sector (a sector counts once any member has read).
- Audit: validation percentage = acknowledged (message x sector) pairs over
  all required ones.
- Watch: subscribe to the change feed; a pulse means reload, it carries no
  payload.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
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
	viper.SetEnvPrefix("BITACORA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "acting user display name")
	rootCmd.PersistentFlags().String("actor-sector", "", "acting user sector")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("actor-sector", rootCmd.PersistentFlags().Lookup("actor-sector"))
}

func registerCommands() {
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(ackCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Manage work-order ledgers"}
	cmd.AddCommand(ledgerStartCmd())
	cmd.AddCommand(ledgerListCmd())
	cmd.AddCommand(ledgerShowCmd())
	cmd.AddCommand(ledgerDeleteCmd())
	return cmd
}

func ledgerStartCmd() *cobra.Command {
	var orderID, grouping, description string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open the ledger for a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orderID == "" {
				return fmt.Errorf("--order required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				job, err := e.StartTracking(ctx, engine.StartTrackingOptions{
					OrderID:      orderID,
					GroupingCode: grouping,
					Description:  description,
					Actor:        actor,
				})
				var dup engine.DuplicateLedgerError
				if errors.As(err, &dup) {
					return fmt.Errorf("work order %s already has an active ledger; open it instead", dup.OrderID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(job, func() { renderLedgers([]domain.TrackedJob{job}, actor.ID) })
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "work order identifier (OT)")
	cmd.Flags().StringVar(&grouping, "grouping", "", "project/order grouping code (OF)")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	return cmd
}

func ledgerListCmd() *cobra.Command {
	var search string
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				filters := engine.JobFilters{Search: search}
				if unread {
					filters.UnreadFor = actor.ID
				}
				jobs, err := e.ListJobs(ctx, filters)
				if err != nil {
					return err
				}
				return printJSONOrTable(jobs, func() { renderLedgers(jobs, actor.ID) })
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by OT or OF substring")
	cmd.Flags().BoolVar(&unread, "unread", false, "only ledgers with unread messages")
	return cmd
}

func ledgerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a ledger's messages and read state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				job, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job, func() { renderMessages(job, actor.ID) })
			})
		},
	}
	return cmd
}

func ledgerDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a ledger (ADMIN sector only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("deleting a ledger discards its acknowledgment history; re-run with --force")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if actor.Sector != domain.SectorAdmin {
					return fmt.Errorf("only the ADMIN sector may delete ledgers")
				}
				if err := e.Repo.DeleteJob(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}

func messageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "message", Short: "Ledger messages"}
	cmd.AddCommand(messageAddCmd())
	return cmd
}

func messageAddCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "add <job-id>",
		Short: "Append a message to a ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				job, err := e.AppendMessage(ctx, args[0], actor, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(job, func() { renderMessages(job, actor.ID) })
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "message text")
	return cmd
}

func ackCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ack <job-id> [message-id]",
		Short: "Acknowledge reading one message, or --all for the whole ledger",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var (
					job domain.TrackedJob
					err error
				)
				switch {
				case all:
					job, err = e.RecordAllReceipts(ctx, args[0], actor)
				case len(args) == 2:
					job, err = e.RecordReceipt(ctx, args[0], args[1], actor)
				default:
					return fmt.Errorf("message-id required unless --all")
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(job, func() { renderMessages(job, actor.ID) })
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "acknowledge every message in the ledger")
	return cmd
}

func auditCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Cross-sector completion overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if jobID != "" {
					job, err := e.GetJob(ctx, jobID)
					if err != nil {
						return err
					}
					return printJSONOrTable(stats.PerJob(job), func() { renderSignatureMatrix(job) })
				}
				jobs, err := e.ListJobs(ctx, engine.JobFilters{})
				if err != nil {
					return err
				}
				return printJSONOrTable(stats.System(jobs), func() { renderAudit(jobs) })
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "show the per-message sector matrix for one ledger")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, jobID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, jobID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, func() { renderEvents(events) })
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&jobID, "job", "", "job id filter")
	return cmd
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload the ledger overview on every change pulse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				reload := func() {
					jobs, err := e.ListJobs(ctx, engine.JobFilters{})
					if err != nil {
						fmt.Println("reload failed:", err)
						return
					}
					unread := 0
					for _, j := range jobs {
						if j.UnreadFor(actor.ID) {
							unread++
						}
					}
					fmt.Printf("%s  %d ledgers, %d with news for you\n",
						time.Now().Format(time.TimeOnly), len(jobs), unread)
				}
				f := feed.New()
				unsubscribe := f.Subscribe(reload)
				defer unsubscribe()
				reload()
				poller := &feed.Poller{Repo: e.Repo, Feed: f, Interval: interval}
				if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn)
			e.Feed = feed.New()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("BITACORA_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeaders,
			}
			if authCfg.JWTSecret == "" && !allowActorHeaders {
				return fmt.Errorf("BITACORA_JWT_SECRET is required for bearer auth (or pass --allow-actor-headers for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e, cfg.Webhooks)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bitacora API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	cmd.Flags().BoolVar(&allowActorHeaders, "allow-actor-headers", false, "accept unauthenticated X-Actor-* headers")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	actor, err := app.ResolveActor(cfg, viper.GetString("actor-id"), viper.GetString("actor-name"), viper.GetString("actor-sector"))
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn), actor)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any, render func()) error {
	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	render()
	return nil
}

func renderLedgers(jobs []domain.TrackedJob, actorID string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"JOB", "OT", "OF", "MSGS", "STATE"})
	for _, j := range jobs {
		state := "al día"
		if j.UnreadFor(actorID) {
			state = "NOVEDADES"
		}
		t.AppendRow(table.Row{j.ID, j.OrderID, j.GroupingCode, len(j.Messages), state})
	}
	t.Render()
}

func renderMessages(job domain.TrackedJob, actorID string) {
	fmt.Printf("%s  OF=%s  %s\n", job.OrderID, job.GroupingCode, job.Description)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"MESSAGE", "SECTOR", "AUTHOR", "BODY", "RECEIPTS", "READ"})
	for _, m := range job.Messages {
		read := "yes"
		if m.UnreadFor(actorID) {
			read = "NO"
		}
		t.AppendRow(table.Row{m.ID, m.AuthorSector, m.AuthorName, m.Body, len(m.Receipts), read})
	}
	t.Render()
}

func renderAudit(jobs []domain.TrackedJob) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"OT", "MSGS", "RECEIPTS", "VALIDATION"})
	for _, j := range jobs {
		s := stats.PerJob(j)
		t.AppendRow(table.Row{j.OrderID, s.MessageCount, s.ReceiptCount, fmt.Sprintf("%.0f%%", s.ValidationPercentage)})
	}
	totals := stats.System(jobs)
	t.AppendFooter(table.Row{fmt.Sprintf("%d ledgers", totals.JobCount), "", totals.ReceiptCount, ""})
	t.Render()
}

func renderSignatureMatrix(job domain.TrackedJob) {
	header := table.Row{"MESSAGE"}
	for _, s := range domain.AllSectors {
		header = append(header, string(s))
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(header)
	for _, m := range job.Messages {
		row := table.Row{m.ID}
		for _, mark := range stats.SectorSignature(m) {
			cell := "·"
			if mark.Acked {
				cell = "✓"
			}
			row = append(row, cell)
		}
		t.AppendRow(row)
	}
	t.Render()
	s := stats.PerJob(job)
	fmt.Printf("validation: %.0f%% (%d messages, %d receipts)\n", s.ValidationPercentage, s.MessageCount, s.ReceiptCount)
}

func renderEvents(events []domain.Event) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "TS", "TYPE", "JOB", "ACTOR"})
	for _, e := range events {
		t.AppendRow(table.Row{e.ID, e.TS, e.Type, e.JobID, e.ActorID})
	}
	t.Render()
}
