package models

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RetrievalResult is the envelope returned for one answered question.
// ConfidenceScore reflects retrieval quality only, never generation quality.
type RetrievalResult struct {
	Answer          string   `json:"answer"`
	RelevantChunks  []string `json:"relevant_chunks"`
	Sources         []int    `json:"sources"`
	ConfidenceScore float64  `json:"confidence_score"`
	NumChunksUsed   int      `json:"num_chunks_used"`
}
