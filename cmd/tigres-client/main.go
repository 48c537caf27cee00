// tigres-client pulls jobs from a distribute-process task server and
// runs them, usually started over ssh on the hosts in TIGRES_HOSTS.
package main

import (
	"log"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tigres-workflow/tigres"
)

func main() {
	var workers int
	cmd := &cobra.Command{
		Use:           "tigres-client <host> <port> <key>",
		Short:         "serve tasks for a distribute-process workflow",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(err, "bad port %q", args[1])
			}
			c := tigres.NewTaskClient(args[0], port, args[2])
			c.Workers = workers
			return c.Run()
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent job pullers, 0 means the CPU count")
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
