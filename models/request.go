package models

// Request lifecycle states. Complete and error are terminal; a record is
// never mutated after it reaches one of them.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Error kinds recorded on terminal error records and surfaced to clients.
const (
	KindUnauthorized     = "unauthorized"
	KindModelUnavailable = "model_unavailable"
	KindEmptyModelOutput = "empty_model_output"
	KindScoringFailed    = "scoring_failed"
	KindInternal         = "internal_error"
)

// RequestInput captures what the client asked for, resolved or not.
type RequestInput struct {
	ResolvedURL       string  `json:"resolved_url"`
	OriginalURL       string  `json:"original_url,omitempty"`
	Threshold         float64 `json:"threshold"`
	ThresholdModifier float64 `json:"threshold_modifier,omitempty"`
}

// Sentiment is the scorer's verdict for one sentence.
type Sentiment struct {
	Negative float64 `json:"negative"`
	Positive float64 `json:"positive"`
	Good     bool    `json:"good"`
}

// SentenceSentiment pairs a narrative fragment with its score.
type SentenceSentiment struct {
	Sentence  string    `json:"sentence"`
	Sentiment Sentiment `json:"sentiment"`
}

// Prompt is one sentiment bucket's concatenated text.
type Prompt struct {
	Prompt string `json:"prompt"`
}

// Results partitions the narrative into good and bad prompts.
type Results struct {
	Good Prompt `json:"good"`
	Bad  Prompt `json:"bad"`
}

// Meta records provenance for auditing.
type Meta struct {
	TokensUsed          int    `json:"tokens_used"`
	ModelUsed           string `json:"model_used"`
	PromptUsed          string `json:"prompt_used"`
	ClassifierModelUsed string `json:"classifier_model_used"`
}

// RequestRecord is the ledger document for one submission.
type RequestRecord struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Input        RequestInput        `json:"input"`
	CreatedAt    int64               `json:"created_at"`
	RequestorIP  string              `json:"requestor_ip,omitempty"`
	Response     string              `json:"response,omitempty"`
	Sentences    []SentenceSentiment `json:"sentences,omitempty"`
	Results      *Results            `json:"results,omitempty"`
	Meta         *Meta               `json:"meta,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// Terminal reports whether the record has reached a final state.
func (r *RequestRecord) Terminal() bool {
	return r.Status == StatusComplete || r.Status == StatusError
}
