package agent

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagent-dev/supportagent/pkg/adk"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/config"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/llm"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// startServer runs the session API with a scripted engine.
func startServer(t *testing.T, steps ...llm.ScriptStep) (*adk.App, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Grants = []config.GrantConfig{
		{Token: "super-agent-secret", Identity: "Agent-007", Scopes: []string{catalog.ScopeReadOrders, catalog.ScopeWriteRefunds}},
		{Token: "junior-agent-secret", Identity: "Intern-Bot", Scopes: []string{catalog.ScopeReadOrders}},
	}
	resolver, err := adk.BuildResolver(cfg, logr.Discard())
	require.NoError(t, err)
	app, err := adk.NewApp(cfg, adk.Components{
		Engine:   llm.NewScriptedClient(steps...),
		Resolver: resolver,
		Store:    knowledge.NewIndex(knowledge.DefaultDocuments()...),
	}, logr.Discard())
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return app, srv.URL
}

func refundSteps() []llm.ScriptStep {
	return []llm.ScriptStep{
		llm.Call(llm.KnownAction{CorrelationID: "c1", Name: catalog.ActionSearchKnowledgeBase, Arguments: map[string]any{
			"query": "Are full refunds allowed for items lost in transit?", "topic": catalog.TopicRefundPolicy,
		}}),
		llm.Call(llm.KnownAction{CorrelationID: "c2", Name: catalog.ActionProcessRefund, Arguments: map[string]any{
			"order_id": "ORD-123", "reason": "lost_in_transit",
		}}),
		llm.Reply("Your refund of $150.00 has been processed."),
	}
}

func TestCatalogCmd(t *testing.T) {
	out, err := execute(t, "", "catalog")
	require.NoError(t, err)
	for _, name := range []string{catalog.ActionGetOrder, catalog.ActionSearchKnowledgeBase, catalog.ActionProcessRefund} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "write:refunds")
	assert.Contains(t, out, "order_id:string")
}

func TestCatalogCmd_JSON(t *testing.T) {
	out, err := execute(t, "", "catalog", "--json")
	require.NoError(t, err)

	var schemas []catalog.ActionSchema
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(out, &schemas))
	var names []string
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	want := catalog.Default().Names()
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("catalog names mismatch (-want +got):\n%s", diff)
	}
}

func TestAskCmd_Remote(t *testing.T) {
	app, url := startServer(t, refundSteps()...)

	out, err := execute(t, "", "ask", "--server", url, "--token", "super-agent-secret", "--show-turns",
		"ORD-123 was lost in transit, please refund it")
	require.NoError(t, err)
	assert.Contains(t, out, "Your refund of $150.00 has been processed.")
	assert.Contains(t, out, "process_refund(order_id=ORD-123, reason=lost_in_transit)")
	assert.Len(t, app.Orders.Refunds(), 1)
	assert.Zero(t, app.Sessions.Len(), "the session is deleted when the command ends")
}

func TestAskCmd_RemoteVerbose(t *testing.T) {
	_, url := startServer(t,
		llm.Call(llm.KnownAction{CorrelationID: "c1", Name: catalog.ActionProcessRefund, Arguments: map[string]any{
			"order_id": "ORD-123", "reason": "lost_in_transit",
		}}),
		llm.Reply("I'm not able to issue refunds."),
	)

	out, err := execute(t, "", "ask", "--server", url, "--token", "junior-agent-secret", "-v", "refund ORD-123")
	require.NoError(t, err)
	assert.Contains(t, out, "[AUTH_REQUIRED] process_refund failed [AUTHORIZATION_DENIED]")
	assert.Contains(t, out, "I'm not able to issue refunds.")
}

func TestAskCmd_InvalidToken(t *testing.T) {
	_, url := startServer(t)

	_, err := execute(t, "", "ask", "--server", url, "--token", "guess", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestAskCmd_RequiresToken(t *testing.T) {
	_, err := execute(t, "", "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestChatCmd_Remote(t *testing.T) {
	_, url := startServer(t,
		llm.Call(llm.KnownAction{CorrelationID: "c1", Name: catalog.ActionGetOrder, Arguments: map[string]any{"order_id": "ORD-123"}}),
		llm.Reply("ORD-123 has shipped."),
		llm.Reply("You're welcome."),
	)

	out, err := execute(t, "where is ORD-123?\n\nthanks\n/turns\n/quit\n",
		"chat", "--server", url, "--token", "junior-agent-secret")
	require.NoError(t, err)
	assert.Contains(t, out, "ORD-123 has shipped.")
	assert.Contains(t, out, "You're welcome.")
	assert.Contains(t, out, "get_order(order_id=ORD-123)")
	assert.Contains(t, out, "[WORKING] Calling get_order")
}

func TestPoliciesCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
auth:
  grants:
    - token: super-agent-secret
      identity: Agent-007
      scopes: ["read:orders", "write:refunds"]
knowledge:
  dsn: "file:`+filepath.Join(dir, "policies.db")+`"
`), 0o600))

	docsPath := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(docsPath, []byte(`
documents:
  - id: returns_1
    topic: refund_policy
    text: Opened software cannot be returned.
  - id: returns_2
    topic: refund_policy
    text: Gift cards are never refundable.
`), 0o600))

	out, err := execute(t, "", "--config", cfgPath, "policies", "ingest", docsPath)
	require.NoError(t, err)
	assert.Contains(t, out, `Ingested 2 documents into "company_policies"`)

	out, err = execute(t, "", "--config", cfgPath, "policies", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "returns_1")
	assert.Contains(t, out, "returns_2")

	out, err = execute(t, "", "--config", cfgPath, "policies", "search", "gift", "cards")
	require.NoError(t, err)
	assert.Contains(t, out, "returns_2")
	assert.NotContains(t, out, "returns_1")

	out, err = execute(t, "", "--config", cfgPath, "policies", "search", "spaceship")
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant policy found.")
}

func TestPoliciesIngest_RequiresInput(t *testing.T) {
	_, err := execute(t, "", "policies", "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--defaults")
}

func TestTurnDetail(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "refund\nplease"},
		{Role: session.RoleActionRequest, Request: &session.ActionCall{CorrelationID: "c1", Name: "get_order", Arguments: map[string]any{"order_id": "ORD-1"}}},
		{Role: session.RoleActionResult, Result: &session.ActionResult{CorrelationID: "c1", Success: true}},
		{Role: session.RoleActionRequest, Request: &session.ActionCall{CorrelationID: "c2", Raw: "{"}},
		{Role: session.RoleActionResult, Result: &session.ActionResult{CorrelationID: "c2", Error: &adkerrors.Descriptor{Code: adkerrors.ErrCodeUnparseableRequest}}},
	}
	var got []string
	for _, turn := range turns {
		got = append(got, turnDetail(turn))
	}
	want := []string{
		"refund please",
		"c1 get_order(order_id=ORD-1)",
		"c1 ok",
		"c2 unparseable: {",
		"c2 UNPARSEABLE_REQUEST",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("turnDetail mismatch (-want +got):\n%s", diff)
	}
}

func TestInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "config.yaml")

	out, err := execute(t, "", "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to")

	_, err = execute(t, "", "--config", path, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)
	require.Len(t, cfg.Auth.Grants, 2)
	assert.Equal(t, "Agent-007", cfg.Auth.Grants[0].Identity)
	assert.Equal(t, 10, cfg.Agent.MaxRounds)
}
