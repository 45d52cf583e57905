// Package redact replaces credentials in log payloads with salted SHA-256
// fingerprints, so equal secrets stay correlatable without being readable.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"access_token":  {},
	"token":         {},
	"authorization": {},
	"refresh_token": {},
	"secret":        {},
}

type Redactor struct {
	salt []byte
}

func New(salt string) *Redactor {
	return &Redactor{salt: []byte(salt)}
}

// IsSensitive reports whether a field or header name carries a credential.
func IsSensitive(name string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Fingerprint hashes v; the empty string stays empty.
func (r *Redactor) Fingerprint(v string) string {
	if v == "" {
		return ""
	}
	return "sha256:" + hashBytes([]byte(v), r.salt)[:16]
}

// JSON returns raw with every sensitive field replaced by its fingerprint.
// Non-JSON input is fingerprinted whole.
func (r *Redactor) JSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		b, _ := json.Marshal(map[string]string{"body_hash": r.Fingerprint(string(raw))})
		return b
	}
	out, err := json.Marshal(r.walk(doc))
	if err != nil {
		return nil
	}
	return out
}

func (r *Redactor) walk(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if IsSensitive(k) {
				if s, ok := child.(string); ok {
					t[k] = r.Fingerprint(s)
					continue
				}
				t[k] = "[redacted]"
				continue
			}
			t[k] = r.walk(child)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = r.walk(t[i])
		}
		return t
	default:
		return v
	}
}

// Fields redacts a flat name/value set such as multipart form fields.
func (r *Redactor) Fields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if IsSensitive(k) {
			out[k] = r.Fingerprint(v)
			continue
		}
		out[k] = v
	}
	return out
}

// Header flattens h and redacts credentials. Bearer tokens keep their scheme.
func (r *Redactor) Header(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		v := strings.Join(vals, ",")
		if IsSensitive(k) {
			scheme, token, found := strings.Cut(v, " ")
			if found {
				v = scheme + " " + r.Fingerprint(token)
			} else {
				v = r.Fingerprint(v)
			}
		}
		out[k] = v
	}
	return out
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
