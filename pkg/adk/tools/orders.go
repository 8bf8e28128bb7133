package tools

import (
	"fmt"
	"sync"
	"time"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Order is a customer order.
type Order struct {
	ID       string  `json:"order_id" yaml:"id" mapstructure:"id"`
	Status   string  `json:"status" yaml:"status" mapstructure:"status"`
	Customer string  `json:"customer" yaml:"customer" mapstructure:"customer"`
	Total    float64 `json:"total" yaml:"total" mapstructure:"total"`
}

// Refund records a processed refund.
type Refund struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Amount    float64   `json:"amount"`
	Processed time.Time `json:"processed_at"`
}

// DefaultOrders returns the demo order book.
func DefaultOrders() []Order {
	return []Order{
		{ID: "ORD-123", Status: "shipped", Customer: "Sreeram", Total: 150.00},
	}
}

// OrderStore is an in-memory order book. It is injected into the tools that
// use it and is safe for concurrent use.
type OrderStore struct {
	mu      sync.RWMutex
	orders  map[string]Order
	refunds map[string]Refund
	now     func() time.Time
}

// NewOrderStore creates a store holding orders.
func NewOrderStore(orders ...Order) *OrderStore {
	s := &OrderStore{
		orders:  make(map[string]Order, len(orders)),
		refunds: make(map[string]Refund),
		now:     time.Now,
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

// Get returns the order with id.
func (s *OrderStore) Get(id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, &adkerrors.NotFoundError{Kind: "order", ID: id}
	}
	return o, nil
}

// Refund refunds the stored total of an order. An order is refunded at most
// once; later attempts fail with ConflictError.
func (s *OrderStore) Refund(id, reason string) (Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Refund{}, &adkerrors.NotFoundError{Kind: "order", ID: id}
	}
	if _, done := s.refunds[id]; done {
		return Refund{}, &adkerrors.ConflictError{Message: fmt.Sprintf("order %s has already been refunded", id)}
	}

	r := Refund{OrderID: id, Reason: reason, Amount: o.Total, Processed: s.now()}
	s.refunds[id] = r
	o.Status = "refunded"
	s.orders[id] = o
	return r, nil
}

// Refunds returns the recorded refunds.
func (s *OrderStore) Refunds() []Refund {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Refund, 0, len(s.refunds))
	for _, r := range s.refunds {
		out = append(out, r)
	}
	return out
}
