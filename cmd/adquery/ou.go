package main

import (
	"github.com/spf13/cobra"

	"github.com/isometry/adquery/internal/ad"
)

func newOUCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ou",
		Short: "Browse organizational units",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newOUListCommand(rt))
	return cmd
}

func newOUListCommand(rt *runtime) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizational units under a container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			units, err := dir.OUs().List(cmd.Context(), in)
			if err != nil {
				return err
			}

			objects := make([]ad.Object, len(units))
			for i, unit := range units {
				objects[i] = unit
			}
			return rt.printObjects(objects)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "container DN to list under, defaults to the directory base")
	return cmd
}
