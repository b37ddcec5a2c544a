package openaicompat

// Message is one entry of an OpenAI-style chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the non-streaming chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// chatResponse models the parts of a completion payload we read. Choice.Text
// is the legacy completions shape some compatible servers still return.
type chatResponse struct {
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Message *Message `json:"message"`
	Text    *string  `json:"text"`
}

// ChatResult is a completed chat exchange.
type ChatResult struct {
	Text  string
	Raw   string
	Model string
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
