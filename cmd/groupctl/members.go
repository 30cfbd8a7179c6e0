package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Sternrassler/directory-groups/pkg/directory"
	"github.com/spf13/cobra"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var role string
	var failOnExisting bool

	cmd := &cobra.Command{
		Use:   "add GROUP MEMBER...",
		Short: "Add members (emails or ids) to a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			members := make([]directory.Member, 0, len(args)-1)
			for _, id := range args[1:] {
				members = append(members, directory.NewMember(id, role))
			}
			return opts.run(func(a *app) error {
				return a.manager.AddMembers(cmd.Context(), args[0], members, failOnExisting)
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", directory.RoleMember, "role of the added members (OWNER, MANAGER, MEMBER)")
	cmd.Flags().BoolVar(&failOnExisting, "fail-on-existing", false, "report members that are already in the group as failures")

	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	var failOnMissing bool

	cmd := &cobra.Command{
		Use:   "remove GROUP MEMBER...",
		Short: "Remove members from a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(a *app) error {
				return a.manager.RemoveMembers(cmd.Context(), args[0], args[1:], failOnMissing)
			})
		},
	}

	cmd.Flags().BoolVar(&failOnMissing, "fail-on-missing", false, "report members that are not in the group as failures")

	return cmd
}

func newSetRoleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role GROUP ROLE MEMBER...",
		Short: "Change the role of group members",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			members := make([]directory.Member, 0, len(args)-2)
			for _, id := range args[2:] {
				members = append(members, directory.NewMember(id, args[1]))
			}
			return opts.run(func(a *app) error {
				return a.manager.ChangeMemberRoles(cmd.Context(), args[0], members)
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "list GROUP",
		Short: "List the members of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(a *app) error {
				membership, err := a.manager.GetMembership(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, key := range membership.Keys(role) {
					fmt.Fprintf(w, "%s\t%s\n", key, membership.Role(key))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "only list members with this role")

	return cmd
}
