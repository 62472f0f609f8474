package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the notification queue",
	}
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueRemoveCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending notification records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := queueStore(flagOrViperBool(cmd, "descending", "queue.descending"))
			if err != nil {
				return err
			}
			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tCREATED\tPRIORITY\tEVENT")
			for _, rec := range records {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					rec.ID, rec.Created.Format("2006-01-02 15:04:05"), rec.Priority, rec.Event)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("descending", false, "List records in reverse order.")
	return cmd
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <record-id>",
		Short: "Remove a record from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := queueStoreFromViper()
			if err != nil {
				return err
			}
			return store.Remove(cmd.Context(), args[0])
		},
	}
}
