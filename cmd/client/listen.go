package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkeye/Voicecall/internal/call"
)

var flagAutoAccept bool

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay online and answer incoming calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := dialSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		printSuccess("Online as " + boldStyle.Render(s.self.Username) + ", waiting for calls")
		var lines <-chan string
		if !flagAutoAccept {
			lines = readLines(os.Stdin)
		}
		return s.listen(ctx, lines)
	},
}

func init() {
	listenCmd.Flags().BoolVar(&flagAutoAccept, "auto-accept", false, "answer every incoming call")
}

// listen answers calls until ctx ends. With lines nil every call is accepted.
func (s *session) listen(ctx context.Context, lines <-chan string) error {
	prompt := lines != nil
	ringing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return errServerGone
		case err := <-s.errs:
			printWarning(err.Error())
		case line, ok := <-lines:
			if !ok {
				lines = nil
			}
			if !ringing {
				continue
			}
			ringing = false
			if answer := strings.ToLower(strings.TrimSpace(line)); answer == "y" || answer == "yes" {
				go s.accept(ctx)
			} else if err := s.machine.RejectCall(); err != nil {
				printWarning(err.Error())
			}
		case snap := <-s.changes:
			printInfo(statusLine(snap))
			ringing = snap.Status == call.StatusIncoming
			if !ringing {
				continue
			}
			if !prompt {
				ringing = false
				go s.accept(ctx)
			} else {
				printInfo("Accept? [y/N]")
			}
		}
	}
}

// accept blocks on local capture, so it runs off the listen loop.
func (s *session) accept(ctx context.Context) {
	if err := s.machine.AcceptCall(ctx); err != nil {
		printWarning(err.Error())
	}
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
