package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGroupCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Look up groups and manage their membership",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		newGroupGetCommand(rt),
		newGroupMembersCommand(rt),
		newGroupAddMemberCommand(rt),
		newGroupRemoveMemberCommand(rt),
	)
	return cmd
}

func newGroupGetCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "get <group>",
		Short: "Show one group by name, DN, GUID, or SID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			group, err := dir.Groups().Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.printObject(group)
		},
	}
}

func newGroupMembersCommand(rt *runtime) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "members <group>",
		Short: "List the members of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}

			var members []string
			if recursive {
				members, err = dir.Groups().NestedMembers(cmd.Context(), args[0])
			} else {
				members, err = dir.Groups().Members(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return rt.printList(members)
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "expand members of nested groups")
	return cmd
}

func newGroupAddMemberCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "add-member <group> <member>...",
		Short: "Add members to a group, skipping those already present",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			if err := dir.Groups().AddMembers(cmd.Context(), args[0], args[1:]); err != nil {
				return err
			}
			return rt.printUpdated("group", args[0])
		},
	}
}

func newGroupRemoveMemberCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-member <group> <member>...",
		Short: "Remove members from a group, skipping those not present",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			if err := dir.Groups().RemoveMembers(cmd.Context(), args[0], args[1:]); err != nil {
				return err
			}
			return rt.printUpdated("group", args[0])
		},
	}
}

// printUpdated acknowledges a successful mutation.
func (rt *runtime) printUpdated(kind, name string) error {
	if rt.format == "json" {
		return writeJSON(rt.out, map[string]any{kind: name, "updated": true})
	}
	_, err := fmt.Fprintf(rt.out, "%s %s updated\n", kind, name)
	return err
}
