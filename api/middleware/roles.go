package middleware

import (
	"net/http"

	"github.com/rmoralesdev/ledgerflow-backend/api/responses"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

// RequireElevated gates refund resolution routes to owner/admin actors.
func RequireElevated(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := enums.MemberRole(RoleFromContext(r.Context()))
			if !role.IsElevated() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "elevated role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
