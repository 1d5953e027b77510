// Package contracts pins the HTTP request/response shapes so handler and
// contract tests share one source of truth.
package contracts

type RouteRequestBody struct {
	RequestID      string `json:"request_id,omitempty"`
	UserAddress    string `json:"user_address"`
	Category       string `json:"category"`
	Priority       string `json:"priority,omitempty"`
	InitialMessage string `json:"initial_message"`
	Language       string `json:"language"`
	UserScore      int    `json:"user_score"`
}

type MatchProbeQuery struct {
	UserAddress string `json:"user_address"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
	Language    string `json:"language"`
	UserScore   int    `json:"user_score"`
}

type SuccessEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type ErrorEnvelope struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
