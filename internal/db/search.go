package db

// KNNQuery asks for the K vectors nearest to Vector.
type KNNQuery struct {
	IndexName string
	// TagFilters pre-filter candidates: field -> exact tag value.
	TagFilters   map[string]string
	Vector       []float32
	K            int
	ReturnFields []string
	// EFRuntime widens the HNSW candidate list for this query. Zero keeps
	// the server default.
	EFRuntime int
}

// SearchResult is the parsed FT.SEARCH reply.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is one hit. Score is a cosine similarity in [0, 1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
