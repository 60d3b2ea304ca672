package model

// OpenAIModel is one entry of the OpenAI-style /v1/models listing.
type OpenAIModel struct {
	Id      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OpenAIModelList is the OpenAI-style model listing envelope.
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// ClaudeModel is one entry of the Anthropic-style /v1/models listing.
type ClaudeModel struct {
	Type        string `json:"type"`
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// ClaudeModelList is the Anthropic-style model listing envelope.
type ClaudeModelList struct {
	Data    []ClaudeModel `json:"data"`
	HasMore bool          `json:"has_more"`
	FirstId string        `json:"first_id,omitempty"`
	LastId  string        `json:"last_id,omitempty"`
}

// GeminiModel is one entry of the Gemini-style /v1beta/models listing.
type GeminiModel struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// GeminiModelList is the Gemini-style model listing envelope.
type GeminiModelList struct {
	Models []GeminiModel `json:"models"`
}
