package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// MaskValue replaces every value the handler considers secret.
const MaskValue = "***REDACTED***"

// secretKeys are attribute keys, normalized by normalizeKey, whose values
// are always masked.
var secretKeys = map[string]bool{
	"authorization":      true,
	"proxyauthorization": true,
	"cookie":             true,
	"setcookie":          true,
	"authcookie":         true,
	"serviceauthcookie":  true,
	"clientauth":         true,
	"servicekey":         true,
	"hiddenservicekey":   true,
	"keyblob":            true,
	"tlskey":             true,
	"privatekey":         true,
}

// secretFragments mask any key that contains them. A bare "key" is not one:
// "peer_key_id" and "sort_key" are not secrets.
var secretFragments = []string{
	"cookie", "secret", "private", "password", "passphrase", "token", "credential", "seed",
}

// valueRule masks a string value by its shape, whatever its key.
type valueRule struct {
	name    string
	pattern *regexp.Regexp
}

var valueRules = []valueRule{
	{"pem private key", regexp.MustCompile(`(?i)-----BEGIN[A-Z ]*(PRIVATE|SECRET)[A-Z ]*KEY-----`)},
	{"ADD_ONION key blob", regexp.MustCompile(`ED25519-V3:[A-Za-z0-9+/=]+`)},
	{"client-auth key", regexp.MustCompile(`(?i)\bx25519:[A-Za-z0-9+/=]{40,}`)},
	{"tor key file", regexp.MustCompile(`== ed25519v1-secret:`)},
	{"auth cookie", regexp.MustCompile(`^[A-Za-z0-9+/]{22}$`)},
	{"http credentials", regexp.MustCompile(`(?i)^(bearer|basic)\s+\S+`)},
}

// normalizeKey lowercases key and drops separators, so "Auth-Cookie",
// "auth_cookie" and "authCookie" compare equal.
func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', ' ':
			return -1
		}
		return r
	}, strings.ToLower(key))
}

// isSecretKey reports whether values under key are masked.
func isSecretKey(key string) bool {
	k := normalizeKey(key)
	if secretKeys[k] {
		return true
	}
	for _, fragment := range secretFragments {
		if strings.Contains(k, fragment) {
			return true
		}
	}
	return false
}

// secretRule returns the name of the rule value matches, or "".
func secretRule(value string) string {
	for _, rule := range valueRules {
		if rule.pattern.MatchString(value) {
			return rule.name
		}
	}
	return ""
}

// SecureHandler masks auth cookies, key material and credentials before a
// record reaches the wrapped handler. Values are masked by key and by shape,
// so a cookie logged under an innocent key is still caught.
//
// Design decision: masking lives in a handler rather than at call sites
// because:
//  1. Loggers handed to tornago and the HTTP server are covered too
//  2. A forgotten call site cannot leak a cookie
type SecureHandler struct {
	next slog.Handler
}

// NewSecureHandler wraps next. A nil next wraps slog.Default's handler.
func NewSecureHandler(next slog.Handler) *SecureHandler {
	if next == nil {
		next = slog.Default().Handler()
	}
	return &SecureHandler{next: next}
}

// Enabled defers to the wrapped handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle masks the record's attributes and passes it on.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(mask(a))
		return true
	})
	return h.next.Handle(ctx, masked)
}

// WithAttrs masks attrs before attaching them.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SecureHandler{next: h.next.WithAttrs(maskAll(attrs))}
}

// WithGroup returns a handler that nests later attributes under name.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{next: h.next.WithGroup(name)}
}

func maskAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = mask(a)
	}
	return out
}

// mask returns a with its value replaced when it is secret. Groups are
// masked member by member and LogValuers are resolved first.
func mask(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(maskAll(a.Value.Group())...)}
	}
	if isSecretKey(a.Key) {
		return slog.String(a.Key, MaskValue)
	}
	if a.Value.Kind() == slog.KindString && secretRule(a.Value.String()) != "" {
		return slog.String(a.Key, MaskValue)
	}
	return a
}

// newLogger builds a masking logger writing text or JSON to w. verbose
// logs at debug level; otherwise only warnings and errors pass.
func newLogger(w io.Writer, verbose, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var inner slog.Handler = slog.NewTextHandler(w, opts)
	if jsonFormat {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewSecureHandler(inner))
}
