package middleware

import "context"

type contextKey string

const (
	ctxUserID      contextKey = "user_id"
	ctxEmail       contextKey = "email"
	ctxRole        contextKey = "actor_role"
	ctxWorkspaceID contextKey = "workspace_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func EmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxEmail).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// WorkspaceIDFromContext returns the actor's currently active workspace. This
// is session state for list scoping only; payment attribution always goes
// through the invoice's owning workspace.
func WorkspaceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxWorkspaceID).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithWorkspaceID injects the active workspace identifier for downstream handlers.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxWorkspaceID, workspaceID)
}
