package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/podtech-ai/tabichan-go/tabichan"
)

// newStreamCmd runs an interactive chat session over WebSocket. Server
// questions are answered from stdin.
func newStreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <query>",
		Short: "Run an interactive chat session over WebSocket.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sess, err := a.NewSession()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stdin := bufio.NewReader(cmd.InOrStdin())
			done := make(chan error, 1)
			var finish sync.Once

			sess.On(tabichan.EventResult, func(evt tabichan.Event) {
				fmt.Fprintln(out, prettyJSON(evt.Data))
			})
			sess.On(tabichan.EventQuestion, func(evt tabichan.Event) {
				question := evt.Question
				// Prompting blocks on stdin; keep the read loop free.
				go func() {
					fmt.Fprintf(out, "? %s\n> ", question.Text)
					line, err := stdin.ReadString('\n')
					if err != nil {
						finish.Do(func() { done <- fmt.Errorf("read answer: %w", err) })
						return
					}
					if err := sess.SendResponse(ctx, strings.TrimSpace(line)); err != nil {
						finish.Do(func() { done <- err })
					}
				}()
			})
			sess.On(tabichan.EventComplete, func(tabichan.Event) {
				finish.Do(func() { done <- nil })
			})
			sess.On(tabichan.EventChatError, func(evt tabichan.Event) {
				finish.Do(func() { done <- evt.Err })
			})
			sess.On(tabichan.EventDisconnected, func(evt tabichan.Event) {
				finish.Do(func() { done <- fmt.Errorf("connection lost: %w", evt.Err) })
			})

			if err := sess.Connect(ctx); err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := sess.Close(closeCtx); err != nil {
					a.Logger.Warn("close session", zap.Error(err))
				}
			}()

			if err := sess.StartChat(ctx, args[0], nil, nil); err != nil {
				return err
			}

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	return cmd
}
