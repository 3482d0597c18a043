package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List users currently online",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := dialSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		users, err := s.waitPresence(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(presenceView(users, s.self.ID))
		return nil
	},
}
