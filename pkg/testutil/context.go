package testutil

import (
	"net/http"

	id "brokerdesk/pkg/domain"
	"brokerdesk/pkg/requestcontext"
)

// WithAuth puts the identity the auth middleware would have resolved into
// the request context, for handlers tested without the middleware.
func WithAuth(req *http.Request, user id.UserID, role id.Role) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), user)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}
