package kit

import "context"

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
	sessionIDKey
	remoteAddrKey
)

func withString(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func stringOf(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithTransport names the surface a call came through: "http" or "mcp".
func WithTransport(ctx context.Context, t string) context.Context {
	return withString(ctx, transportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v := stringOf(ctx, transportKey); v != "" {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return stringOf(ctx, requestIDKey) }

// WithSessionID records the recorded session a call is about.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, sessionIDKey, id)
}

func GetSessionID(ctx context.Context) string { return stringOf(ctx, sessionIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return withString(ctx, remoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string { return stringOf(ctx, remoteAddrKey) }

// SessionScoped is implemented by requests that target one recorded
// session. The MCP adapter copies the reference into the context.
type SessionScoped interface {
	SessionRef() string
}
