package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMarkersCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "markers",
		Short: "Print the breakpoint markers of the fixture source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadFixtureEnv()
			if err != nil {
				return err
			}
			for _, m := range env.markers.Sorted() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s:%d\n", m.Name, m.File, m.Line)
			}
			return nil
		},
	}
}
