// Command ticketctl is the ticketwatch operations CLI.
//
// Usage:
//
//	ticketctl migrate
//	ticketctl seed
//	ticketctl tick
//	ticketctl check --from 2900000 --to 2900800 --start 2025-06-12 --end 2025-06-14 --seats 2 --brand Sharq
//	ticketctl subscriptions list --chat 123456 --all
//	ticketctl subscriptions deactivate 42
//	ticketctl purge-logs --days 30
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lookingforticket/ticketwatch/internal/app"
	"github.com/lookingforticket/ticketwatch/internal/config"
	"github.com/lookingforticket/ticketwatch/internal/db"
	"github.com/lookingforticket/ticketwatch/internal/escalation"
	"github.com/lookingforticket/ticketwatch/internal/maintenance"
	"github.com/lookingforticket/ticketwatch/internal/notifications"
	"github.com/lookingforticket/ticketwatch/internal/provider/railway"
	"github.com/lookingforticket/ticketwatch/internal/seed"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "ticketctl",
		Short:        "ticketwatch operations CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(subscriptionsCmd())
	root.AddCommand(purgeLogsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate / seed
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema (bolt buckets are created on open)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StoreDriverPostgres {
				logger.Info("Nothing to migrate", "driver", cfg.StoreDriver)
				return nil
			}
			start := time.Now()
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied", "duration", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert stations and train brands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				result := seed.SeedReferenceData(ctx, st, logger)
				for _, e := range result.Errors {
					logger.Error("seed error", "error", e)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("seed finished with %d errors", len(result.Errors))
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// tick / check
// --------------------------------------------------------------------------

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one monitoring pass over all active subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				sender, err := notifications.NewTelegramSender(cfg.TelegramBotToken,
					time.Duration(cfg.TelegramPollTimeout)*time.Second, logger)
				if err != nil {
					return err
				}
				scheduler, _ := app.NewScheduler(cfg, st, sender, logger)

				result, err := scheduler.RunTick(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, result.Summary())
				for _, r := range result.Results {
					fmt.Fprintln(out, "  "+r.Summary())
				}
				return nil
			})
		},
	}
}

func checkCmd() *cobra.Command {
	var (
		from, to, start, end string
		seats                int
		brands               []string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Query availability for a route and date range without a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDay(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			endDate := startDate
			if end != "" {
				if endDate, err = parseDay(end); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
			}

			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				agg := app.NewAggregator(cfg, st, logger)
				trains, err := agg.FetchRange(ctx, railway.Query{
					Origin:      from,
					Destination: to,
					From:        startDate,
					To:          endDate,
					MinSeats:    seats,
					Brands:      railway.NewBrandSet(brands...),
				})
				if err != nil {
					return err
				}
				printTrains(cmd, trains)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "2900000", "Origin station code")
	cmd.Flags().StringVar(&to, "to", "2900800", "Destination station code")
	cmd.Flags().StringVar(&start, "start", "", "First departure date (YYYY-MM-DD or DD.MM.YYYY)")
	cmd.Flags().StringVar(&end, "end", "", "Last departure date, defaults to --start")
	cmd.Flags().IntVar(&seats, "seats", 1, "Minimum free seats in one car class")
	cmd.Flags().StringSliceVar(&brands, "brand", nil, "Allowed brand (repeatable), empty means all")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func printTrains(cmd *cobra.Command, trains []railway.TrainInfo) {
	if len(trains) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no trains with enough free seats")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRAIN\tBRAND\tDATE\tDEPART\tARRIVE\tCLASS\tSEATS\tFROM")
	for _, t := range trains {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			t.TrainNumber, t.Brand, t.DepartureDate, t.DepartureTime, t.ArrivalTime,
			t.CarTypeShow, t.FreeSeats, notifications.FormatPrice(t.MinTariff))
	}
	_ = w.Flush()
}

// --------------------------------------------------------------------------
// subscriptions
// --------------------------------------------------------------------------

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect and toggle subscriptions",
	}
	cmd.AddCommand(subscriptionsListCmd())
	cmd.AddCommand(subscriptionsToggleCmd("activate", "Reactivate a subscription and reset its notification count", true))
	cmd.AddCommand(subscriptionsToggleCmd("deactivate", "Stop monitoring a subscription", false))
	return cmd
}

func subscriptionsListCmd() *cobra.Command {
	var (
		chatID int64
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active subscriptions (or one chat's, with --chat)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				var (
					subs []store.Subscription
					err  error
				)
				if chatID != 0 {
					subs, err = st.ListSubscriptionsByChat(ctx, chatID, !all)
				} else {
					subs, err = st.ListActiveSubscriptions(ctx)
				}
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCHAT\tROUTE\tWINDOW\tSEATS\tCOUNT\tACTIVE\tLAST CHECKED")
				for _, s := range subs {
					checked := "-"
					if s.LastCheckedAt != nil {
						checked = s.LastCheckedAt.In(cfg.Location()).Format("2006-01-02 15:04")
					}
					fmt.Fprintf(w, "%d\t%d\t%s → %s\t%s..%s\t%d\t%d\t%t\t%s\n",
						s.ID, s.ChatID, s.StationFromName, s.StationToName,
						s.FromDate.Format(time.DateOnly), s.ToDate.Format(time.DateOnly),
						s.MinSeats, s.NotificationCount, s.IsActive, checked)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Telegram chat id")
	cmd.Flags().BoolVar(&all, "all", false, "Include inactive subscriptions (with --chat)")
	return cmd
}

func subscriptionsToggleCmd(use, short string, activate bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid subscription id %q", args[0])
			}
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				if _, err := st.GetSubscription(ctx, id); err != nil {
					return fmt.Errorf("subscription %d: %w", id, err)
				}
				if activate {
					err = escalation.Reactivate(ctx, st, id)
				} else {
					err = escalation.Deactivate(ctx, st, id)
				}
				if err != nil {
					return err
				}
				logger.Info("Subscription updated", "subscription_id", id, "active", activate)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// purge-logs
// --------------------------------------------------------------------------

func purgeLogsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete api_logs and message_logs rows older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				retention := cfg.LogRetention
				if days > 0 {
					retention = time.Duration(days) * 24 * time.Hour
				}
				n, err := maintenance.PurgeLogs(ctx, st, time.Now().Add(-retention), logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d log rows\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days, defaults to LOG_RETENTION_DAYS")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = app.NewLogger(cfg, os.Stderr)
	return cfg, nil
}

func withStore(fn func(ctx context.Context, cfg *config.Config, st store.Store) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	return fn(ctx, cfg, st)
}

func parseDay(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "02.01.2006"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
