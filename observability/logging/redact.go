package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked by every handler built by Setup, whatever the
// call site passes.
var sensitiveKeys = map[string]struct{}{
	"secret":        {},
	"passphrase":    {},
	"password":      {},
	"token":         {},
	"authorization": {},
	"hmacsecret":    {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose non-empty value is replaced by
// RedactedValue. Empty values pass through so logs show whether a secret was
// supplied at all.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString {
		return MaskField(attr.Key, attr.Value.String())
	}
	return slog.String(attr.Key, RedactedValue)
}
