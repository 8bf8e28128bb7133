package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/kagent-dev/supportagent/pkg/adk/events"
)

type askOptions struct {
	sessionFlags
	showTurns bool
	verbose   bool
}

func newAskCmd(o *options) *cobra.Command {
	ao := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the reply",
		Long: `Open a session, send a single message and print the agent's reply.

Examples:
  supportagent ask --token super-agent-secret "What is the status of ORD-123?"
  supportagent ask --token junior-agent-secret --show-turns "Refund ORD-123, it was lost in transit"
  supportagent ask --server http://localhost:8080 --token super-agent-secret -v "Refund ORD-123"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, o, ao, strings.Join(args, " "))
		},
	}

	ao.register(cmd)
	cmd.Flags().BoolVar(&ao.showTurns, "show-turns", false, "Print the transcript of the exchange")
	cmd.Flags().BoolVarP(&ao.verbose, "verbose", "v", false, "Print progress updates while the agent works")

	return cmd
}

func runAsk(cmd *cobra.Command, o *options, ao *askOptions, message string) error {
	conv, err := ao.open(cmd, o)
	if err != nil {
		return err
	}
	defer conv.Close()

	out := cmd.OutOrStdout()
	var progress func(*events.StatusUpdate)
	stop := func() {}
	if ao.verbose {
		progress = func(u *events.StatusUpdate) {
			if !u.Final {
				fmt.Fprintln(out, renderStatus(u))
			}
		}
	} else {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " thinking..."
		s.Start()
		stop = s.Stop
	}

	ex, err := conv.Send(cmd.Context(), message, progress)
	stop()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderReply(ex.Reply))
	if ao.showTurns {
		renderTurns(out, ex.Turns)
	}
	return nil
}
