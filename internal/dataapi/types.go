package dataapi

import "github.com/rafaeljc/featuregate/internal/ruleengine"

// Error codes shared with the control plane contract.
const (
	CodeInvalidJSON  = "ERR_INVALID_JSON"
	CodeInvalidInput = "ERR_INVALID_INPUT"
	CodeInternal     = "ERR_INTERNAL"
)

// MaxBatchSize caps the number of flags in one batch evaluation.
const MaxBatchSize = 100

// EvaluationResponse is the decision for one flag.
type EvaluationResponse struct {
	Flag      string            `json:"flag"`
	Available bool              `json:"available"`
	Reason    ruleengine.Reason `json:"reason"`
}

// BatchEvaluationRequest lists the flags to evaluate for the request subject.
type BatchEvaluationRequest struct {
	Flags []string `json:"flags"`
}

// BatchEvaluationResponse keeps the request order.
type BatchEvaluationResponse struct {
	Results []EvaluationResponse `json:"results"`
}

// AvailableFlagsResponse lists every flag available to the subject, sorted by name.
type AvailableFlagsResponse struct {
	Flags []string `json:"flags"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
