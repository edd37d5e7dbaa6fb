package model

// ErrorResponse for consistent error handling
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusResponse is served by GET /status.
type StatusResponse struct {
	Passes   int         `json:"passes"`
	LastPass *SyncResult `json:"last_pass"`
}
