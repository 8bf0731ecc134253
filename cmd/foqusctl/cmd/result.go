package cmd

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func resultCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Page and fetch finished job results",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "request <session>",
			Short: "Page the session's newly finished jobs and print the page number",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := newClient().RequestPage(commandContext(cmd), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <session> <page>",
			Short: "Print a result page",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return errors.Wrapf(err, "invalid page %q", args[1])
				}
				page, err := newClient().GetPage(commandContext(cmd), args[0], n)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			},
		},
	)
	return cmd
}
