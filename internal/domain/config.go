package domain

// KeyPrefix namespaces every key postmap writes to the Redis/Valkey store.
const KeyPrefix = "postmap:"

// VectorConfig pins the (model, dimensions, float width) tuple used end to end.
// Vectors persisted under one tuple must never be compared with another.
type VectorConfig struct {
	Model          string
	Dimensions     int
	FloatBytes     int
	DistanceMetric string
	// TitleWeight is the share of the title embedding in a post embedding;
	// the description gets 1 - TitleWeight.
	TitleWeight float32
}

// DefaultVectorConfig returns the tuple for paraphrase-mpnet-base-v2.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:          "paraphrase-mpnet-base-v2",
		Dimensions:     768,
		FloatBytes:     4,
		DistanceMetric: "cosine",
		TitleWeight:    0.6,
	}
}

// BlobSize is the exact byte length of a stored embedding.
func (c VectorConfig) BlobSize() int {
	return c.Dimensions * c.FloatBytes
}
