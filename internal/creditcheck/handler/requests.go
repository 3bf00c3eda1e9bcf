package handler

import (
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"brokerdesk/internal/creditcheck/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	pstrings "brokerdesk/pkg/platform/strings"
)

// SubmitRequest is the body of POST /credit-checks.
type SubmitRequest struct {
	ClientID  string `json:"client_id" validate:"required,uuid"`
	ProfileID string `json:"profile_id" validate:"required,uuid"`

	clientID  id.ClientID
	profileID id.ProfileID
}

// Prepare parses the validated ids.
func (r *SubmitRequest) Prepare() error {
	clientID, err := id.ParseClientID(r.ClientID)
	if err != nil {
		return err
	}
	profileID, err := id.ParseProfileID(r.ProfileID)
	if err != nil {
		return err
	}
	r.clientID, r.profileID = clientID, profileID
	return nil
}

func parseListFilter(q url.Values) (models.ListFilter, error) {
	var f models.ListFilter
	for _, raw := range pstrings.SplitList(q.Get("status")) {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, status)
	}
	if raw := q.Get("client_id"); raw != "" {
		clientID, err := id.ParseClientID(raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeValidation, "client_id must be a UUID")
		}
		f.ClientID = &clientID
	}
	var err error
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	return f.Normalize(), nil
}

func intParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, key+" must be a non-negative integer")
	}
	return v, nil
}

func parseCheckID(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "credit check id must be a positive integer")
	}
	return v, nil
}

func parseNominalLimit(q url.Values, def decimal.Decimal) (decimal.Decimal, error) {
	raw := q.Get("nominal_limit")
	if raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "nominal_limit must be a decimal number")
	}
	return v, nil
}
