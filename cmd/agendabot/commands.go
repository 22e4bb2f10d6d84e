package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agendabot/internal/domain/reminder"
	"agendabot/internal/infra/store"
)

var (
	bold = color.New(color.Bold).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
)

const displayLayout = "Mon 2006-01-02 15:04 MST"

func newAgendaCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Inspect the stored agenda",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the agenda from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			backend, err := buildStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			a, err := store.NewAgendaStore(backend).Read(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.Render())
			return nil
		},
	})
	return cmd
}

func newNextMeetingCommand(opts *rootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "next-meeting",
		Short: "Print the next meeting and its reminder windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			anchor, err := cfg.Anchor()
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			return printNextMeeting(cmd.OutOrStdout(), anchor, now)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this RFC3339 instant instead of now")
	return cmd
}

func printNextMeeting(w io.Writer, anchor reminder.Anchor, now time.Time) error {
	meeting, err := anchor.NextMeeting(now)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", bold("Next meeting:"), meeting.Format(displayLayout))
	for _, t := range []reminder.Type{reminder.OneHour} {
		lead, ok := t.Lead()
		if !ok {
			continue
		}
		window := reminder.RemindWindow(meeting, lead)
		state := "pending"
		if window.Contains(now) {
			state = "open"
		}
		fmt.Fprintf(w, "%s reminder window: %s until %s %s\n", t,
			window.Start.Format(displayLayout), window.End.Format(displayLayout), gray("("+state+")"))
	}
	return nil
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			source := cfg.Source()
			if source == "" {
				source = "defaults and environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", source, out)
			return nil
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agendabot %s\n", version)
		},
	}
}
