package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newUserCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Look up and verify user accounts",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		newUserGetCommand(rt),
		newUserGroupsCommand(rt),
		newUserAuthCommand(rt),
	)
	return cmd
}

func newUserGetCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user>",
		Short: "Show one user by sAMAccountName, UPN, DN, GUID, or SID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			user, err := dir.Users().Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rt.printObject(user)
		},
	}
}

func newUserGroupsCommand(rt *runtime) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "groups <user>",
		Short: "List the groups a user belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			groups, err := dir.Users().Groups(cmd.Context(), args[0], recursive)
			if err != nil {
				return err
			}
			return rt.printList(groups)
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "expand nested group membership")
	return cmd
}

func newUserAuthCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "auth <user>",
		Short: "Verify a user's credentials",
		Long: `auth checks the given credentials on a dedicated short-lived
connection, leaving the main bind untouched. The password is read from
the first line of stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			if err := dir.Users().Authenticate(cmd.Context(), args[0], password); err != nil {
				return err
			}
			if rt.format == "json" {
				return writeJSON(rt.out, map[string]bool{"authenticated": true})
			}
			fmt.Fprintln(rt.out, "authentication succeeded")
			return nil
		},
	}
}

// readPassword reads the password to verify from the first line of the
// reader.
func readPassword(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return "", fmt.Errorf("no password on stdin")
	}
	return scanner.Text(), nil
}
