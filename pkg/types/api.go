package types

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message        string `json:"message" validate:"required"`
	ConversationID string `json:"conversationId,omitempty" validate:"max=256"`
}

// ChatResponse is the body of a successful POST /chat
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
