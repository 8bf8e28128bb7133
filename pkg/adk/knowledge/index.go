package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "for": {}, "from": {}, "has": {}, "have": {}, "i": {}, "if": {},
	"in": {}, "is": {}, "it": {}, "my": {}, "of": {}, "on": {}, "or": {}, "the": {},
	"this": {}, "that": {}, "to": {}, "was": {}, "what": {}, "with": {},
}

type indexedDoc struct {
	doc    Document
	terms  map[string]int
	length int
}

// Index is an in-memory lexical ranker over policy documents. It is safe for
// concurrent queries; Add takes a write lock.
type Index struct {
	mu        sync.RWMutex
	docs      []indexedDoc
	docFreq   map[string]int
	totalTerm int
	closed    bool
}

// NewIndex builds an index over docs.
func NewIndex(docs ...Document) *Index {
	idx := &Index{docFreq: make(map[string]int)}
	idx.Add(docs...)
	return idx
}

// Add indexes more documents. A document whose ID is already indexed is replaced.
func (idx *Index) Add(docs ...Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, d := range docs {
		for i := range idx.docs {
			if idx.docs[i].doc.ID == d.ID {
				idx.removeAt(i)
				break
			}
		}
		terms := make(map[string]int)
		tokens := tokenize(d.Text)
		for _, tok := range tokens {
			terms[tok]++
		}
		for term := range terms {
			idx.docFreq[term]++
		}
		idx.totalTerm += len(tokens)
		idx.docs = append(idx.docs, indexedDoc{doc: d, terms: terms, length: len(tokens)})
	}
}

func (idx *Index) removeAt(i int) {
	old := idx.docs[i]
	for term := range old.terms {
		idx.docFreq[term]--
		if idx.docFreq[term] == 0 {
			delete(idx.docFreq, term)
		}
	}
	idx.totalTerm -= old.length
	idx.docs = append(idx.docs[:i], idx.docs[i+1:]...)
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Close marks the index unreachable; later queries fail with
// StoreUnavailableError.
func (idx *Index) Close() {
	idx.mu.Lock()
	idx.closed = true
	idx.mu.Unlock()
}

// Query returns a cursor over at most topK snippets with a positive score
// against text. topK <= 0 uses DefaultTopK. Equal scores are ordered by
// document ID. Scoring runs on the first Next against the index as it is
// then; a closed index reports StoreUnavailableError through Err.
func (idx *Index) Query(ctx context.Context, text string, topK int) (*Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, &adkerrors.StoreUnavailableError{Cause: err}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	idx.mu.RLock()
	closed := idx.closed
	idx.mu.RUnlock()
	if closed {
		return nil, &adkerrors.StoreUnavailableError{}
	}

	query := tokenize(text)
	var ranked []Snippet
	scored := false
	return NewResults(func() (Snippet, bool, error) {
		if !scored {
			if err := ctx.Err(); err != nil {
				return Snippet{}, false, &adkerrors.StoreUnavailableError{Cause: err}
			}
			var err error
			if ranked, err = idx.rank(query, topK); err != nil {
				return Snippet{}, false, err
			}
			scored = true
		}
		if len(ranked) == 0 {
			return Snippet{}, false, nil
		}
		s := ranked[0]
		ranked = ranked[1:]
		return s, true, nil
	}), nil
}

// rank scores every document with BM25 and keeps the best topK.
func (idx *Index) rank(query []string, topK int) ([]Snippet, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, &adkerrors.StoreUnavailableError{}
	}
	if len(idx.docs) == 0 {
		return nil, nil
	}

	n := float64(len(idx.docs))
	avgLen := float64(idx.totalTerm) / n

	ranked := make([]Snippet, 0, len(idx.docs))
	for _, d := range idx.docs {
		var score float64
		for _, term := range query {
			tf := float64(d.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLen)
			score += idf * tf * (bm25K1 + 1) / norm
		}
		if score > 0 {
			ranked = append(ranked, Snippet{DocumentID: d.doc.ID, Text: d.doc.Text, Topic: d.doc.Topic, Score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DocumentID < ranked[j].DocumentID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func tokenize(text string) []string {
	folded := cases.Fold().String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
