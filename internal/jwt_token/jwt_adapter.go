package jwttoken

import (
	authmw "brokerdesk/pkg/platform/middleware/auth"
)

// Validator exposes the service to the auth middleware, which only needs
// the bearer's user id and role.
func (s *JWTService) Validator() authmw.JWTValidator {
	return middlewareValidator{service: s}
}

type middlewareValidator struct {
	service *JWTService
}

func (v middlewareValidator) ValidateToken(raw string) (*authmw.JWTClaims, error) {
	claims, err := v.service.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{UserID: claims.UserID, Role: claims.Role}, nil
}
