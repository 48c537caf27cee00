package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/tigres-workflow/tigres"
)

func main() {
	// Cross-process backends re-execute this binary as a worker.
	if worker, err := tigres.MaybeRunWorker(); worker {
		if err != nil {
			log.Fatal(err)
		}
		return
	}
	root := &cobra.Command{
		Use:           "tigres",
		Short:         "run task workflows described in TOML",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(logCmd())
	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
