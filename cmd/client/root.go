package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dkeye/Voicecall/internal/config"
)

var cfg *config.ClientConfig

var rootCmd = &cobra.Command{
	Use:   "voicecall",
	Short: "Place and answer one-to-one voice and video calls",
	Long: `voicecall connects to a Voicecall signaling server, shows who is online
and runs one call at a time over WebRTC.

Examples:
  voicecall token --id 42 --name alice
  voicecall online --token $TOKEN
  voicecall call 17 --video
  voicecall listen --auto-accept`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadClient(cmd.Flags())
		if err != nil {
			return err
		}
		if lvl, err := zerolog.ParseLevel(c.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
		cfg = c
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("server-url", "", "signaling WebSocket URL")
	f.String("token", "", "bearer token identifying you to the server")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.StringSlice("stun-servers", nil, "STUN server URLs")
	f.StringSlice("turn-servers", nil, "TURN server URLs used for relay fallback")
	f.String("turn-username", "", "TURN username")
	f.String("turn-password", "", "TURN password")
	f.Duration("recovery-timeout", 0, "how long a call may stay unconnected before recovery")
	f.String("jwt-secret", "", "signing secret for the token command")

	rootCmd.AddCommand(tokenCmd, onlineCmd, callCmd, listenCmd)
}

// Execute runs the root command. Interrupts cancel the command context so
// an active call is hung up before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err.Error())
		stop()
		os.Exit(1)
	}
}
