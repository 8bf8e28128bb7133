package catalog

// Action names of the customer-support catalog.
const (
	ActionGetOrder            = "get_order"
	ActionSearchKnowledgeBase = "search_knowledge_base"
	ActionProcessRefund       = "process_refund"
)

// Scopes used by the customer-support catalog.
const (
	ScopeReadOrders   = "read:orders"
	ScopeWriteRefunds = "write:refunds"
)

// TopicRefundPolicy is the policy topic refunds are gated on.
const TopicRefundPolicy = "refund_policy"

// DefaultVersion is the version of the built-in catalog.
const DefaultVersion = "1.0.0"

// DefaultActions returns the customer-support actions.
func DefaultActions() []ActionSchema {
	return []ActionSchema{
		{
			Name:        ActionGetOrder,
			Description: "Retrieve the status and details of an order.",
			Parameters: []ParamSpec{
				{Name: "order_id", Type: TypeString, Required: true, Description: "The order identifier, e.g. ORD-123."},
			},
			RequiredScope: ScopeReadOrders,
			Idempotent:    true,
			Kind:          KindBackend,
			EntityParam:   "order_id",
			Endpoint:      &Endpoint{Method: "GET", Path: "/orders/{order_id}"},
		},
		{
			Name:        ActionSearchKnowledgeBase,
			Description: "Search the company policy knowledge base. Use this before any refund to check the applicable policy.",
			Parameters: []ParamSpec{
				{Name: "query", Type: TypeString, Required: true, Description: "Free-text question about company policy."},
				{Name: "topic", Type: TypeString, Description: "Optional policy topic tag.", Enum: []string{TopicRefundPolicy, "warranty_policy", "shipping_policy"}},
			},
			Idempotent: true,
			Kind:       KindPolicyQuery,
		},
		{
			Name:        ActionProcessRefund,
			Description: "Issue a refund for an order. Requires a prior policy check that permits the refund.",
			Parameters: []ParamSpec{
				{Name: "order_id", Type: TypeString, Required: true, Description: "The order identifier, e.g. ORD-123."},
				{Name: "reason", Type: TypeString, Required: true, Description: "Why the customer is asking for a refund, e.g. lost_in_transit."},
			},
			RequiredScope: ScopeWriteRefunds,
			Sensitive:     true,
			Kind:          KindBackend,
			PolicyTopic:   TopicRefundPolicy,
			EntityParam:   "order_id",
			Endpoint:      &Endpoint{Method: "POST", Path: "/refunds"},
		},
	}
}

// Default returns the published customer-support catalog.
func Default() *Catalog {
	c, err := New(DefaultVersion)
	if err != nil {
		panic(err)
	}
	return c.MustRegister(DefaultActions()...).Publish()
}
