package engine

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is one completed chat call.
type Reply struct {
	// Text is the extracted assistant text.
	Text string
	// Raw is the undecoded response body.
	Raw string
	// ModelVersion is the model identifier the backend reported, if any.
	ModelVersion string
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
