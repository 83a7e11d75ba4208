package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rmoralesdev/ledgerflow-backend/api/responses"
	pkgauth "github.com/rmoralesdev/ledgerflow-backend/pkg/auth"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/config"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/enums"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.UserID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing subject"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID.String())
			ctx = context.WithValue(ctx, ctxEmail, claims.Email)
			ctx = context.WithValue(ctx, ctxRole, string(claims.Role))
			if claims.ActiveWorkspaceID != nil {
				ctx = context.WithValue(ctx, ctxWorkspaceID, claims.ActiveWorkspaceID.String())
			}

			if logg != nil {
				fields := map[string]any{
					"user_id":    claims.UserID.String(),
					"actor_role": string(claims.Role),
				}
				if claims.ActiveWorkspaceID != nil {
					fields["workspace_id"] = claims.ActiveWorkspaceID.String()
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext rebuilds the actor bundle seeded by Auth. The second return
// is false when the context was never authenticated.
func ActorFromContext(ctx context.Context) (pkgauth.Actor, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return pkgauth.Actor{}, false
	}

	actor := pkgauth.Actor{
		UserID: userID,
		Email:  EmailFromContext(ctx),
		Role:   enums.MemberRole(RoleFromContext(ctx)),
	}
	if raw := WorkspaceIDFromContext(ctx); raw != "" {
		if wsID, err := uuid.Parse(raw); err == nil {
			actor.ActiveWorkspaceID = &wsID
		}
	}
	return actor, true
}
