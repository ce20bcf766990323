package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoAmICommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity the directory authorized this connection as",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rt.directory(cmd.Context())
			if err != nil {
				return err
			}
			result, err := dir.Client().WhoAmI(cmd.Context())
			if err != nil {
				return err
			}

			if rt.format == "json" {
				return writeJSON(rt.out, struct {
					AuthzID           string `json:"authz_id"`
					Format            string `json:"format"`
					DN                string `json:"dn,omitempty"`
					UserPrincipalName string `json:"upn,omitempty"`
					SAMAccountName    string `json:"sam,omitempty"`
					SID               string `json:"sid,omitempty"`
				}{
					AuthzID:           result.AuthzID,
					Format:            result.Format,
					DN:                result.DN,
					UserPrincipalName: result.UserPrincipalName,
					SAMAccountName:    result.SAMAccountName,
					SID:               result.SID,
				})
			}

			fmt.Fprintf(rt.out, "authzid: %s\n", result.AuthzID)
			fmt.Fprintf(rt.out, "format: %s\n", result.Format)
			if result.DN != "" {
				fmt.Fprintf(rt.out, "dn: %s\n", result.DN)
			}
			if result.UserPrincipalName != "" {
				fmt.Fprintf(rt.out, "upn: %s\n", result.UserPrincipalName)
			}
			if result.SAMAccountName != "" {
				fmt.Fprintf(rt.out, "sam: %s\n", result.SAMAccountName)
			}
			if result.SID != "" {
				fmt.Fprintf(rt.out, "sid: %s\n", result.SID)
			}
			return nil
		},
	}
}
