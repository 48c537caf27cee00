package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tigres-workflow/tigres/monitoring"
)

func logCmd() *cobra.Command {
	var q monitoring.Query
	cmd := &cobra.Command{
		Use:   "log <dest>",
		Short: "read monitoring records from a log file or sqlite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := monitoring.Find(args[0], q)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp, r.Level, r.Name, r.State, r.NodeType)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Name, "name", "", "filter by node name")
	cmd.Flags().StringVar(&q.State, "state", "", "filter by state")
	cmd.Flags().StringVar(&q.NodeType, "nodetype", "", "filter by node type")
	return cmd
}
