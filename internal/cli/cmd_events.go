package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	var follow string

	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Show a task's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			evts, err := s.svc.ListEvents(args[0])
			if err != nil {
				return err
			}
			if follow != "" {
				filtered := evts[:0]
				for _, e := range evts {
					if e.Type == follow {
						filtered = append(filtered, e)
					}
				}
				evts = filtered
			}
			if jsonOut {
				return printJSON(evts)
			}
			if len(evts) == 0 {
				fmt.Println("No events.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIME\tROUND\tTYPE\tPAYLOAD")
			for _, e := range evts {
				round := "-"
				if e.Round != nil {
					round = fmt.Sprintf("%d", *e.Round)
				}
				payload := truncate(string(e.Payload), 60)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.Seq, e.CreatedAt.Format("15:04:05"), round, e.Type, payload)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&follow, "type", "", "only show events of this type")
	return cmd
}
