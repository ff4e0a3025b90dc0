package audit

import "context"

// RequestMeta is the request snapshot attached to the context by the
// authentication gate (or any other entry point). The recorder copies it into
// events synchronously at Record time; the background workers never read
// request state.
type RequestMeta struct {
	IP        string
	UserAgent string
	Method    string
	URI       string
	SessionID string
	Params    map[string]string
}

// Actor is the authenticated identity attached to the context.
type Actor struct {
	UserID   int64
	Username string
}

type metaContextKey struct{}
type actorContextKey struct{}

// WithMeta returns a context carrying the request snapshot.
func WithMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaContextKey{}, meta)
}

// MetaFromContext returns the request snapshot, if any.
func MetaFromContext(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(metaContextKey{}).(RequestMeta)
	return meta, ok
}

// WithActor returns a context carrying the authenticated identity.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the authenticated identity, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
