package agent

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kagent-dev/supportagent/pkg/adk/events"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

func newChatCmd(o *options) *cobra.Command {
	sf := &sessionFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent interactively",
		Long: `Open a session and read messages from standard input until EOF or /quit.

Commands:
  /turns   print the transcript so far
  /quit    end the session

Examples:
  supportagent chat --token super-agent-secret
  supportagent chat --server http://localhost:8080 --token junior-agent-secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, o, sf)
		},
	}
	sf.register(cmd)

	return cmd
}

func runChat(cmd *cobra.Command, o *options, sf *sessionFlags) error {
	conv, err := sf.open(cmd, o)
	if err != nil {
		return err
	}
	defer conv.Close()

	out := cmd.OutOrStdout()
	progress := func(u *events.StatusUpdate) {
		if !u.Final {
			fmt.Fprintln(out, renderStatus(u))
		}
	}

	var transcript []session.Turn
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/turns":
			renderTurns(out, transcript)
			continue
		}

		ex, err := conv.Send(cmd.Context(), line, progress)
		if err != nil {
			if cmd.Context().Err() != nil {
				return err
			}
			fmt.Fprintln(out, failedColor.Sprintf("error: %v", err))
			continue
		}
		transcript = append(transcript, ex.Turns...)
		fmt.Fprintln(out, renderReply(ex.Reply))
	}
}
