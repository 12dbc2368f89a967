package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/pms-scheduling/internal/app"
	"github.com/hackgods/pms-scheduling/internal/appointment"
	"github.com/hackgods/pms-scheduling/internal/config"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "slotctl",
		Short:         "Operator tooling for provider schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(materializeCmd())
	rootCmd.AddCommand(generateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withService opens the stack for the duration of one command. Logs go to stderr so
// stdout stays machine readable.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *appointment.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Str("service", "slotctl").
		Logger()

	ctx := cmd.Context()
	a, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a.Service)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the bookable slots of a provider on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, _ := cmd.Flags().GetInt64("provider")
			rawDate, _ := cmd.Flags().GetString("date")

			date, err := schedule.ParseDate(rawDate)
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc *appointment.Service) error {
				slots, err := svc.AvailableSlots(ctx, providerID, date)
				if err != nil {
					return err
				}
				return printJSON(slots)
			})
		},
	}
	cmd.Flags().Int64("provider", 0, "Provider ID")
	cmd.Flags().String("date", "", "Date to resolve (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func materializeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Project resolved availability into slot rows",
		Long: "Without --provider every provider with rules is projected over the configured horizon. " +
			"With --provider, --from and --to select the date range.",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, _ := cmd.Flags().GetInt64("provider")
			rawFrom, _ := cmd.Flags().GetString("from")
			rawTo, _ := cmd.Flags().GetString("to")

			if providerID == 0 {
				return withService(cmd, func(ctx context.Context, svc *appointment.Service) error {
					res, err := svc.MaterializeHorizon(ctx)
					if perr := printJSON(res); perr != nil {
						return perr
					}
					return err
				})
			}

			from, err := schedule.ParseDate(rawFrom)
			if err != nil {
				return err
			}
			to, err := schedule.ParseDate(rawTo)
			if err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc *appointment.Service) error {
				res, err := svc.MaterializeRange(ctx, appointment.System, providerID, from, to)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().Int64("provider", 0, "Provider ID, 0 for all providers")
	cmd.Flags().String("from", "", "First date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last date, inclusive (YYYY-MM-DD)")
	cmd.MarkFlagsRequiredTogether("provider", "from", "to")
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Insert slot rows from a recurrence definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			providerID, _ := flags.GetInt64("provider")
			pattern, _ := flags.GetString("pattern")
			rawAnchor, _ := flags.GetString("anchor")
			rawUntil, _ := flags.GetString("until")
			rawStart, _ := flags.GetString("start")
			rawEnd, _ := flags.GetString("end")
			duration, _ := flags.GetDuration("duration")
			breakDur, _ := flags.GetDuration("break")
			zone, _ := flags.GetString("zone")
			apptType, _ := flags.GetString("type")

			anchor, err := schedule.ParseDate(rawAnchor)
			if err != nil {
				return err
			}
			var until schedule.Date
			if rawUntil != "" {
				if until, err = schedule.ParseDate(rawUntil); err != nil {
					return err
				}
			}
			start, err := schedule.ParseTimeOfDay(rawStart)
			if err != nil {
				return err
			}
			end, err := schedule.ParseTimeOfDay(rawEnd)
			if err != nil {
				return err
			}

			def := schedule.Definition{
				ProviderID: providerID,
				Recurrence: schedule.Recurrence{
					Pattern: schedule.Pattern(pattern),
					Anchor:  anchor,
					Until:   until,
				},
				StartTime:       start,
				EndTime:         end,
				SlotDuration:    duration,
				BreakDuration:   breakDur,
				TimeZone:        zone,
				AppointmentType: apptType,
			}

			return withService(cmd, func(ctx context.Context, svc *appointment.Service) error {
				res, err := svc.GenerateSlots(ctx, appointment.System, def)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().Int64("provider", 0, "Provider ID")
	cmd.Flags().String("pattern", "", "Recurrence pattern: daily, weekly or monthly. Empty generates the anchor date only")
	cmd.Flags().String("anchor", "", "First occurrence (YYYY-MM-DD)")
	cmd.Flags().String("until", "", "Last possible occurrence, inclusive (YYYY-MM-DD). Required with --pattern")
	cmd.Flags().String("start", "09:00", "Daily window start (HH:MM)")
	cmd.Flags().String("end", "17:00", "Daily window end (HH:MM)")
	cmd.Flags().Duration("duration", 30*time.Minute, "Slot length")
	cmd.Flags().Duration("break", 0, "Gap between consecutive slots")
	cmd.Flags().String("zone", "", "IANA time zone, defaults to DEFAULT_TIME_ZONE")
	cmd.Flags().String("type", "", "Appointment type, defaults to consultation")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("anchor")
	return cmd
}
