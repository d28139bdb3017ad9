package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floegence/imagent/internal/records"
)

func newEventsCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List stored activities that start within the reminder window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := records.Open(records.Options{
				Path:         a.cfg.Database.Path,
				Tables:       a.cfg.Tables(),
				DefaultTable: a.cfg.Database.DefaultTable,
				Logger:       a.log.With("component", "records"),
			})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			opts := a.reminderOptions()
			if days > 0 {
				opts.WindowDays = days
			}
			text, err := store.Reminder(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Window in days (default: reminders.window_days)")
	return cmd
}
