package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/Voicecall/internal/domain"
)

var flagVideo bool

var callCmd = &cobra.Command{
	Use:   "call <user-id>",
	Short: "Call an online user and stay in the call until either side hangs up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := dialSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		users, err := s.waitPresence(ctx)
		if err != nil {
			return err
		}
		target := domain.User{ID: domain.UserID(args[0]), Username: args[0]}
		found := false
		for _, u := range users {
			if u.ID == target.ID {
				target, found = u, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s is not online", args[0])
		}

		kind := domain.MediaAudio
		if flagVideo {
			kind = domain.MediaVideo
		}
		if err := s.machine.StartCall(ctx, target, kind); err != nil {
			return err
		}
		if err := s.follow(ctx); err != nil {
			return err
		}
		printSuccess("Done")
		return nil
	},
}

func init() {
	callCmd.Flags().BoolVar(&flagVideo, "video", false, "request a video call")
}
