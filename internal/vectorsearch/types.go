package vectorsearch

// Parameters drive embedding generation for insert-many documents and
// $vectorSearch query rewrites.
type Parameters struct {
	// Model selects the embedding model; empty uses the service default.
	Model string `json:"model,omitempty"`
	// OutputDimension must match the target index; 0 uses the configured default.
	OutputDimension int `json:"outputDimension,omitempty"`
	// OutputDtype is one of float, int8, uint8, binary, ubinary.
	OutputDtype string `json:"outputDtype,omitempty"`
	// Input maps field paths to raw text, one entry per document in
	// insert-many order.
	Input []map[string]string `json:"input,omitempty"`
}

// FieldEmbedding describes one vector-indexed field of a namespace.
type FieldEmbedding struct {
	Path          string
	NumDimensions int
	Similarity    string
	Quantization  string
}

// NamespaceIndex is one vector search index with its vector and filter fields.
type NamespaceIndex struct {
	Name         string
	Queryable    bool
	VectorFields []FieldEmbedding
	FilterPaths  []string
}
