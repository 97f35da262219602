package auth

import "context"

// Caller is either Authenticated(userID) or Anonymous. It is resolved once
// per request from the bearer credential.
type Caller struct {
	userID int64
}

func Anonymous() Caller {
	return Caller{}
}

func Authenticated(userID int64) Caller {
	return Caller{userID: userID}
}

// UserID returns the authenticated user id; ok is false for Anonymous.
func (c Caller) UserID() (id int64, ok bool) {
	return c.userID, c.userID > 0
}

func (c Caller) IsAnonymous() bool {
	return c.userID <= 0
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext defaults to Anonymous.
func CallerFromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return Anonymous()
}
