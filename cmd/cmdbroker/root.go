package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cmdbroker/internal/auth"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "cmdbroker",
		Short:         "UI automation command broker",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFlag)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Configuration file path (default $CMDBROKER_CONFIG or "+defaultConfigPath+")")

	rootCmd.AddCommand(
		newTokenCommand(&configFlag),
		newMigrateCommand(&configFlag),
	)

	return rootCmd
}

func newTokenCommand(configFlag *string) *cobra.Command {
	var roleFlag string

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			token, err := mintToken(cfg, args[0], roleFlag)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&roleFlag, "role", string(auth.RoleAdmin),
		"Token role (producer, consumer, viewer, admin)")

	return cmd
}
