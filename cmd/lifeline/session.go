package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/lifeline/internal/config"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/ledger"
	"github.com/zulandar/lifeline/internal/models"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect emergency sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		filters    ledger.ListFilters
		active     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, configPath, filters, active)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lifeline config file")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filters.City, "city", "", "filter by city")
	cmd.Flags().StringVar(&filters.District, "district", "", "filter by district")
	cmd.Flags().StringVar(&filters.EmergencyType, "type", "", "filter by emergency type")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum sessions to show")
	cmd.Flags().BoolVar(&active, "active", false, "only open sessions (ignores other filters)")
	return cmd
}

func runSessionList(cmd *cobra.Command, configPath string, filters ledger.ListFilters, active bool) error {
	filters.Status = strings.ToUpper(filters.Status)

	return withLedger(cmd, configPath, func(ctx context.Context, led *ledger.Ledger) error {
		var (
			sessions []models.Session
			err      error
		)
		if active {
			sessions, err = led.Active(ctx)
		} else {
			sessions, err = led.List(ctx, filters)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPRI\tCITY\tCREATED\tDESCRIPTION")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				s.ID, orDash(s.EmergencyType), orDash(s.Status), s.PriorityLevel,
				orDash(s.City), formatTime(s.CreatedAt), truncate(orDash(s.Description), 40))
		}
		w.Flush()
		fmt.Fprintf(out, "\n%d session(s)\n", len(sessions))
		return nil
	})
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session with its dispatches and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lifeline config file")
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath, id string) error {
	return withLedger(cmd, configPath, func(ctx context.Context, led *ledger.Ledger) error {
		s, err := led.Get(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:          %s\n", s.ID)
		fmt.Fprintf(out, "Type:        %s\n", orDash(s.EmergencyType))
		fmt.Fprintf(out, "Status:      %s\n", orDash(s.Status))
		fmt.Fprintf(out, "Priority:    %d\n", s.PriorityLevel)
		fmt.Fprintf(out, "Language:    %s\n", s.Language)
		fmt.Fprintf(out, "Caller:      %s (%s)\n", orDash(s.CallerName), orDash(s.CallerPhone))
		fmt.Fprintf(out, "Address:     %s\n", orDash(s.Address))
		if s.Landmark != nil {
			fmt.Fprintf(out, "Landmark:    %s\n", *s.Landmark)
		}
		fmt.Fprintf(out, "City:        %s / %s\n", orDash(s.City), orDash(s.District))
		if s.GPSCoordinates != nil {
			fmt.Fprintf(out, "GPS:         %s\n", *s.GPSCoordinates)
		}
		if s.CallerID != nil {
			fmt.Fprintf(out, "Caller ID:   %s\n", *s.CallerID)
		}
		if s.LocationID != nil {
			fmt.Fprintf(out, "Location ID: %s\n", *s.LocationID)
		}
		if s.SupersedesID != nil {
			fmt.Fprintf(out, "Supersedes:  %s\n", *s.SupersedesID)
		}
		fmt.Fprintf(out, "Created:     %s\n", formatTime(s.CreatedAt))
		fmt.Fprintf(out, "Updated:     %s\n", formatTime(s.UpdatedAt))

		if s.Description != nil {
			fmt.Fprintf(out, "\nDescription:\n%s\n", *s.Description)
		}
		if s.Notes != nil {
			fmt.Fprintf(out, "\nNotes:\n%s\n", *s.Notes)
		}

		if len(s.Dispatches) > 0 {
			fmt.Fprintln(out, "\nDispatches:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tRESPONDER\tSTATUS\tDISPATCHED\tARRIVED")
			for _, d := range s.Dispatches {
				responder := "-"
				if d.Responder != nil {
					responder = d.Responder.Identifier
				}
				arrived := "-"
				if d.ArrivalTime != nil {
					arrived = formatTime(*d.ArrivalTime)
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
					d.ID, responder, d.Status, formatTime(d.DispatchedAt), arrived)
			}
			w.Flush()
		}

		if len(s.Transcript) > 0 {
			fmt.Fprintln(out, "\nTranscript:")
			for _, e := range s.Transcript {
				fmt.Fprintf(out, "  %3d  %s  %-6s  %s\n",
					e.Sequence, e.Timestamp.UTC().Format("15:04:05.000"), e.SpeakerType, e.Content)
			}
		}
		return nil
	})
}

// withLedger runs fn against a ledger over the configured store.
func withLedger(cmd *cobra.Command, configPath string, fn func(ctx context.Context, led *ledger.Ledger) error) error {
	return withGateway(configPath, cmd.ErrOrStderr(), func(ctx context.Context, cfg *config.Config, gw *db.Gateway, log *logrus.Logger) error {
		led, err := ledger.New(ledger.Opts{
			Gateway:         gw,
			Logger:          log,
			DefaultLanguage: cfg.Language,
		})
		if err != nil {
			return err
		}
		return fn(ctx, led)
	})
}
