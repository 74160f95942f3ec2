package identity

import "context"

type ctxKey string

const emailKey ctxKey = "identity_email"

// WithEmail attaches the authenticated subject email to the context.
func WithEmail(ctx context.Context, email string) context.Context {
	if email == "" {
		return ctx
	}
	return context.WithValue(ctx, emailKey, email)
}

// EmailFromContext returns the authenticated subject email, if any.
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok && email != ""
}
