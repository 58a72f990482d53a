package dtos

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ResponseTime string `json:"response_time"`
	Data         any    `json:"data,omitempty"`
	Code         string `json:"code,omitempty"`
	Details      any    `json:"details,omitempty"`
}
