package registry

import "context"

type originKey struct{}

type origin struct {
	actor   string
	trigger string
}

// WithOrigin tags ctx with who asked for a lifecycle change and why. The
// values end up in the audit log.
func WithOrigin(ctx context.Context, actor, trigger string) context.Context {
	return context.WithValue(ctx, originKey{}, origin{actor: actor, trigger: trigger})
}

func actorFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(origin); ok && o.actor != "" {
		return o.actor
	}
	return "api"
}

func triggerFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(origin); ok && o.trigger != "" {
		return o.trigger
	}
	return "request"
}
