package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"foqus-orchestrator/api/rest/client"
	"foqus-orchestrator/core/models"

	"github.com/spf13/cobra"
)

func sessionCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, fill and control sessions",
	}
	cmd.AddCommand(
		sessionCreateCmd(newClient),
		sessionAppendCmd(newClient),
		sessionActionCmd(newClient, "start", "Submit staged and stopped jobs", (*client.Client).Start),
		sessionActionCmd(newClient, "stop", "Withdraw submitted jobs", (*client.Client).Stop),
		sessionActionCmd(newClient, "kill", "Terminate active jobs", (*client.Client).Kill),
		sessionShowCmd(newClient),
	)
	return cmd
}

func sessionCreateCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := newClient().CreateSession(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func sessionAppendCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "append <session> <file|->",
		Short: "Stage job definitions from a JSON or YAML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				batch []byte
				err   error
			)
			if args[1] == "-" {
				batch, err = io.ReadAll(cmd.InOrStdin())
			} else {
				batch, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			ids, err := newClient().AppendJobs(commandContext(cmd), args[0], batch)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

type sessionAction func(*client.Client, context.Context, string) (*client.SessionResult, error)

func sessionActionCmd(newClient clientFactory, use, short string, action sessionAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := action(newClient(), commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func sessionShowCmd(newClient clientFactory) *cobra.Command {
	var (
		state   string
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "List a session's jobs or their state counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if summary {
				s, err := c.Summary(commandContext(cmd), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			}
			jobs, err := c.Jobs(commandContext(cmd), args[0], models.JobState(state))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only list jobs in this state")
	cmd.Flags().BoolVar(&summary, "summary", false, "print state counts instead of jobs")
	return cmd
}
