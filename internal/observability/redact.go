package observability

import (
	"encoding/json"
	"strings"
)

// Key names whose values never belong in a log line. Matching is
// case-insensitive and substring-based to also catch header-style variants
// like "X-Api-Key" or "Ocp-Apim-Subscription-Key".
var sensitiveKeys = []string{
	"api_key", "apikey", "api-key", "authorization", "auth", "token",
	"access_token", "refresh_token", "password", "secret", "bearer",
	"subscription-key",
}

// RedactJSON replaces sensitive values in a JSON payload before it is
// logged. Unparseable input is returned unchanged; redaction is best-effort
// and must never drop the payload.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	redacted := redactValue(v)
	b, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return b
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
			} else {
				val[k] = redactValue(vv)
			}
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}
