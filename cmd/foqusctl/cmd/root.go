package cmd

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"foqus-orchestrator/api/rest/client"
	"foqus-orchestrator/api/rest/handlers"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootCmd is the root command; every other command is registered here
func RootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FOQUS")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          "foqusctl",
		Short:        "foqusctl drives FOQUS simulation sessions.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("url", "http://localhost:8080", "coordinator base URL")
	cmd.PersistentFlags().String("user", handlers.DefaultUser, "user to act as")
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	_ = v.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))
	_ = v.BindPFlag("user", cmd.PersistentFlags().Lookup("user"))
	_ = v.BindPFlag("timeout", cmd.PersistentFlags().Lookup("timeout"))

	newClient := func() *client.Client {
		return client.New(v.GetString("url"), v.GetString("user"), v.GetDuration("timeout"))
	}

	cmd.AddCommand(
		sessionCmd(newClient),
		resultCmd(newClient),
	)
	return cmd
}

type clientFactory func() *client.Client

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
