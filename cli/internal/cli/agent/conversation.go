package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kagent-dev/supportagent/pkg/adk"
	"github.com/kagent-dev/supportagent/pkg/adk/events"
	"github.com/kagent-dev/supportagent/pkg/adk/executor"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

// exchange is the outcome of one user message.
type exchange struct {
	Reply string
	Turns []session.Turn
}

// conversation is a session the CLI sends messages to, either hosted in
// process or on a running session API.
type conversation interface {
	Send(ctx context.Context, message string, progress func(*events.StatusUpdate)) (*exchange, error)
	Close() error
}

// sessionFlags select where the conversation runs and who the caller is.
type sessionFlags struct {
	server  string
	token   string
	userID  string
	timeout time.Duration
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "Session API URL; the agent runs in process when empty")
	cmd.Flags().StringVar(&f.token, "token", "", "Caller's backend credential")
	cmd.Flags().StringVar(&f.userID, "user", "cli", "User the session belongs to")
	cmd.Flags().DurationVar(&f.timeout, "http-timeout", 5*time.Minute, "Request timeout when talking to --server")
	_ = cmd.MarkFlagRequired("token")
}

// open starts a session for the selected target.
func (f *sessionFlags) open(cmd *cobra.Command, o *options) (conversation, error) {
	ctx := cmd.Context()
	req := &session.CreateSessionRequest{AppName: "supportagent-cli", UserID: f.userID, Token: f.token}

	if f.server != "" {
		client := session.NewClient(f.server, &http.Client{Timeout: f.timeout})
		view, err := client.CreateSession(ctx, req)
		if err != nil {
			return nil, err
		}
		return &remoteConversation{client: client, id: view.ID}, nil
	}

	cfg, logger, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	app, err := adk.Build(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	sess, err := app.Sessions.CreateSession(ctx, req)
	if err != nil {
		_ = app.Close()
		logger.Sync()
		return nil, err
	}
	return &localConversation{app: app, sess: sess, sync: logger.Sync}, nil
}

type localConversation struct {
	app  *adk.App
	sess *session.Session
	sync func()
}

func (c *localConversation) Send(ctx context.Context, message string, progress func(*events.StatusUpdate)) (*exchange, error) {
	var sink events.Sink
	if progress != nil {
		sink = events.SinkFunc(func(e *events.Event) { progress(events.ToStatus(e)) })
	}
	result, err := c.app.Orchestrator.Run(ctx, c.sess, message, sink)
	if err != nil && !errors.Is(err, executor.ErrMaxRounds) {
		return nil, err
	}
	return &exchange{Reply: result.Message, Turns: result.Turns}, nil
}

func (c *localConversation) Close() error {
	defer c.sync()
	return c.app.Close()
}

type remoteConversation struct {
	client *session.Client
	id     string
}

func (c *remoteConversation) Send(ctx context.Context, message string, progress func(*events.StatusUpdate)) (*exchange, error) {
	if progress == nil {
		resp, err := c.client.SendMessage(ctx, c.id, message)
		if err != nil {
			return nil, err
		}
		return &exchange{Reply: resp.Message, Turns: resp.Turns}, nil
	}

	view, err := c.client.GetSession(ctx, c.id)
	if err != nil {
		return nil, err
	}
	final, err := c.client.StreamMessage(ctx, c.id, message, progress)
	if err != nil {
		return nil, err
	}
	turns, err := c.client.Turns(ctx, c.id, len(view.Turns))
	if err != nil {
		return nil, err
	}
	return &exchange{Reply: final.Message, Turns: turns}, nil
}

func (c *remoteConversation) Close() error {
	return c.client.DeleteSession(context.Background(), c.id)
}
