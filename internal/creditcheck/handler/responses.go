package handler

import (
	"brokerdesk/internal/creditcheck/models"
	"brokerdesk/internal/risk"
)

// CreditCheckResponse is a credit check with its classification once terminal.
type CreditCheckResponse struct {
	*models.CreditCheckRequest
	Risk *risk.Classification `json:"risk,omitempty"`
}

// ListResponse is one page of a broker's credit checks.
type ListResponse struct {
	CreditChecks []*models.CreditCheckRequest `json:"credit_checks"`
	Total        int                          `json:"total"`
	Limit        int                          `json:"limit"`
	Offset       int                          `json:"offset"`
}
