package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/Voicecall/internal/auth"
	"github.com/dkeye/Voicecall/internal/domain"
)

var (
	flagUserID   string
	flagUsername string
	flagTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token signed with jwt-secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("jwt-secret is required to mint tokens")
		}
		user, err := domain.NewUser(flagUserID, flagUsername)
		if err != nil {
			return err
		}
		tok, err := auth.NewJWTAuthenticator(cfg.JWTSecret, flagTTL).Issue(*user)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagUserID, "id", "", "user id")
	tokenCmd.Flags().StringVar(&flagUsername, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "token lifetime, 0 for none")
}
