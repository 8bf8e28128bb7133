package agent

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/events"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

const (
	replyWidth  = 80
	detailWidth = 72
)

var (
	replyStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

	workingColor = color.New(color.FgCyan)
	authColor    = color.New(color.FgYellow, color.Bold)
	failedColor  = color.New(color.FgRed, color.Bold)
	doneColor    = color.New(color.FgGreen)
)

// renderReply boxes the assistant's final message.
func renderReply(msg string) string {
	return replyStyle.Render(wordwrap.String(msg, replyWidth))
}

// renderStatus formats one streamed update as a single line.
func renderStatus(u *events.StatusUpdate) string {
	c := workingColor
	switch u.State {
	case events.TaskStateAuthRequired:
		c = authColor
	case events.TaskStateFailed:
		c = failedColor
	case events.TaskStateCompleted:
		c = doneColor
	}
	msg := u.Message
	if keepalive, _ := u.Metadata["keepalive"].(bool); keepalive {
		msg = "still working"
	}
	return fmt.Sprintf("%s %s", c.Sprintf("[%s]", u.State), truncate.StringWithTail(msg, detailWidth, "..."))
}

// renderCatalog writes one row per action.
func renderCatalog(w io.Writer, cat *catalog.Catalog) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Action catalog v%s", cat.Version()))
	t.AppendHeader(table.Row{"Action", "Kind", "Scope", "Sensitive", "Topic", "Parameters"})
	for _, s := range cat.DescribeAll() {
		t.AppendRow(table.Row{s.Name, s.Kind, s.RequiredScope, yesNo(s.Sensitive), s.PolicyTopic, paramList(s)})
	}
	t.Render()
}

func paramList(s catalog.ActionSchema) string {
	parts := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", name, p.Type))
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// renderTurns writes the transcript as a table.
func renderTurns(w io.Writer, turns []session.Turn) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Round", "Role", "Detail"})
	for _, turn := range turns {
		t.AppendRow(table.Row{turn.Seq, turn.Round, turn.Role, truncate.StringWithTail(turnDetail(turn), detailWidth, "...")})
	}
	t.Render()
}

// turnDetail summarises a turn on one line.
func turnDetail(t session.Turn) string {
	switch {
	case t.Request != nil:
		if t.Request.Name == "" {
			return fmt.Sprintf("%s unparseable: %s", t.Request.CorrelationID, t.Request.Raw)
		}
		return fmt.Sprintf("%s %s(%s)", t.Request.CorrelationID, t.Request.Name, argList(t.Request.Arguments))
	case t.Result != nil:
		if t.Result.Error != nil {
			return fmt.Sprintf("%s %s", t.Result.CorrelationID, t.Result.Error.Code)
		}
		return fmt.Sprintf("%s ok", t.Result.CorrelationID)
	default:
		return strings.ReplaceAll(t.Content, "\n", " ")
	}
}

func argList(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return strings.Join(parts, ", ")
}

// renderSnippets writes ranked policy snippets.
func renderSnippets(w io.Writer, snippets []knowledge.Snippet) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Document", "Score", "Text"})
	for _, s := range snippets {
		t.AppendRow(table.Row{s.DocumentID, fmt.Sprintf("%.3f", s.Score), wordwrap.String(s.Text, 60)})
	}
	t.Render()
}
