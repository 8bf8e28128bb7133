package knowledge

import (
	"context"
)

// DefaultTopK is the number of snippets returned when the caller does not ask
// for a specific count.
const DefaultTopK = 2

// Document is a policy text stored in the knowledge base.
type Document struct {
	ID    string `json:"id" yaml:"id"`
	Text  string `json:"text" yaml:"text"`
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty"`
}

// Snippet is a ranked query result.
type Snippet struct {
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Topic      string  `json:"topic,omitempty"`
	Score      float64 `json:"score"`
}

// Store answers free-text policy queries. Implementations return
// StoreUnavailableError when the index cannot be reached.
type Store interface {
	Query(ctx context.Context, text string, topK int) (*Results, error)
}

// Results is a finite, forward-only cursor over ranked snippets, in
// descending relevance. It cannot be rewound.
//
//	res, err := store.Query(ctx, "refund for damaged item", 2)
//	for res.Next() {
//		fmt.Println(res.Snippet().Text)
//	}
//	if err := res.Err(); err != nil { ... }
type Results struct {
	next    func() (Snippet, bool, error)
	current Snippet
	err     error
	done    bool
}

// NewResults builds a cursor from a producer. The producer is called lazily
// once per Next until it reports no more snippets or an error.
func NewResults(next func() (Snippet, bool, error)) *Results {
	return &Results{next: next}
}

// SliceResults returns a cursor over a precomputed ranking.
func SliceResults(snippets []Snippet) *Results {
	i := 0
	return NewResults(func() (Snippet, bool, error) {
		if i >= len(snippets) {
			return Snippet{}, false, nil
		}
		s := snippets[i]
		i++
		return s, true, nil
	})
}

// Next advances to the next snippet.
func (r *Results) Next() bool {
	if r == nil || r.done {
		return false
	}
	s, ok, err := r.next()
	if err != nil {
		r.err = err
		r.done = true
		return false
	}
	if !ok {
		r.done = true
		return false
	}
	r.current = s
	return true
}

// Snippet returns the snippet at the cursor.
func (r *Results) Snippet() Snippet {
	return r.current
}

// Err returns the error that stopped iteration, if any.
func (r *Results) Err() error {
	if r == nil {
		return nil
	}
	return r.err
}

// Collect drains the cursor.
func Collect(r *Results) ([]Snippet, error) {
	var out []Snippet
	for r.Next() {
		out = append(out, r.Snippet())
	}
	return out, r.Err()
}
