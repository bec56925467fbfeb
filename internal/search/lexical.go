package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 parameters, standard values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// LexicalIndex is an in-process BM25 index over chunk retrieval text. Like
// the vector index it is hydrated from Mongo and rebuilt on reindex.
type LexicalIndex struct {
	mu       sync.RWMutex
	docs     map[string]map[string]int // chunk id -> term frequencies
	docLen   map[string]int
	docFreq  map[string]int            // term -> number of docs containing it
	totalLen int
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		docs:    make(map[string]map[string]int),
		docLen:  make(map[string]int),
		docFreq: make(map[string]int),
	}
}

// Reset drops all indexed documents.
func (li *LexicalIndex) Reset() {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.docs = make(map[string]map[string]int)
	li.docLen = make(map[string]int)
	li.docFreq = make(map[string]int)
	li.totalLen = 0
}

// Add indexes one chunk's retrieval text under its id, replacing any previous
// entry for that id.
func (li *LexicalIndex) Add(id, text string) {
	terms := tokenize(text)

	li.mu.Lock()
	defer li.mu.Unlock()

	if old, ok := li.docs[id]; ok {
		for term := range old {
			li.docFreq[term]--
			if li.docFreq[term] <= 0 {
				delete(li.docFreq, term)
			}
		}
		li.totalLen -= li.docLen[id]
	}

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	for term := range tf {
		li.docFreq[term]++
	}
	li.docs[id] = tf
	li.docLen[id] = len(terms)
	li.totalLen += len(terms)
}

// Count returns the number of indexed chunks.
func (li *LexicalIndex) Count() int {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return len(li.docs)
}

// Score computes the BM25 score of query against the chunk with the given id.
func (li *LexicalIndex) Score(query, id string) float64 {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return li.scoreLocked(tokenize(query), id)
}

// TopK returns the k highest-scoring chunk ids for the query, descending;
// chunks scoring zero are omitted.
func (li *LexicalIndex) TopK(query string, k int) []Hit {
	terms := tokenize(query)

	li.mu.RLock()
	defer li.mu.RUnlock()

	hits := make([]Hit, 0, k)
	for id := range li.docs {
		s := li.scoreLocked(terms, id)
		if s > 0 {
			hits = append(hits, Hit{ChunkID: id, Score: s})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (li *LexicalIndex) scoreLocked(queryTerms []string, id string) float64 {
	tf, ok := li.docs[id]
	if !ok || len(li.docs) == 0 {
		return 0
	}
	avgLen := float64(li.totalLen) / float64(len(li.docs))
	n := float64(len(li.docs))

	var score float64
	for _, term := range queryTerms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := float64(li.docFreq[term])
		// log(1+x) keeps IDF non-negative for very common terms
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		denom := f + bm25K1*(1-bm25B+bm25B*float64(li.docLen[id])/avgLen)
		score += idf * f * (bm25K1 + 1) / denom
	}
	return score
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
