package tools

import (
	"context"
	"fmt"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// GetOrderTool looks up an order.
type GetOrderTool struct {
	BaseTool
	store *OrderStore
}

// NewGetOrderTool creates a new GetOrderTool
func NewGetOrderTool(store *OrderStore) *GetOrderTool {
	return &GetOrderTool{
		BaseTool: NewBaseTool(catalog.ActionGetOrder, "Get the status and details of an order by ID"),
		store:    store,
	}
}

func (t *GetOrderTool) Run(_ context.Context, args map[string]any, _ *Context) (map[string]any, error) {
	id, ok := args["order_id"].(string)
	if !ok || id == "" {
		return nil, adkerrors.New(adkerrors.ErrCodeInvalidInput, "order_id is required", nil)
	}

	o, err := t.store.Get(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"order_id": o.ID,
		"status":   o.Status,
		"customer": o.Customer,
		"total":    o.Total,
	}, nil
}

// ProcessRefundTool refunds an order.
type ProcessRefundTool struct {
	BaseTool
	store *OrderStore
}

// NewProcessRefundTool creates a new ProcessRefundTool
func NewProcessRefundTool(store *OrderStore) *ProcessRefundTool {
	return &ProcessRefundTool{
		BaseTool: NewBaseTool(catalog.ActionProcessRefund, "Issue a refund. Requires order ID and a reason"),
		store:    store,
	}
}

func (t *ProcessRefundTool) Run(_ context.Context, args map[string]any, _ *Context) (map[string]any, error) {
	id, ok := args["order_id"].(string)
	if !ok || id == "" {
		return nil, adkerrors.New(adkerrors.ErrCodeInvalidInput, "order_id is required", nil)
	}
	reason, ok := args["reason"].(string)
	if !ok || reason == "" {
		return nil, adkerrors.New(adkerrors.ErrCodeInvalidInput, "reason is required", nil)
	}

	r, err := t.store.Refund(id, reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":         true,
		"message":         fmt.Sprintf("Refund processed for %s. Reason: %s", id, reason),
		"refunded_amount": r.Amount,
	}, nil
}

// CRMTools returns the order tools backed by store.
func CRMTools(store *OrderStore) []Tool {
	return []Tool{NewGetOrderTool(store), NewProcessRefundTool(store)}
}
