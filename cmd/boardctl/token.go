package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prism-board/auth"
)

func newGenTokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "gen-token",
		Short: "Mint an HS256 token for AUTH0_TEST_MODE",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			tok, err := auth.TestToken([]byte(getenv("TEST_JWT_SECRET")), user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
