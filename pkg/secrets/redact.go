package secrets

import (
	"strings"
	"sync"
)

// Mask is the fixed token substituted for every registered secret.
const Mask = "***"

// Redactor scrubs registered secret values from outgoing text by literal
// substring replacement. Every boundary that emits text (logger, error
// construction) must route through a single shared Redactor so no code
// path can skip scrubbing.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRedactor creates a Redactor with an optional initial set of secrets.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	r.Add(secrets...)
	return r
}

// Add registers secret values to be masked. Empty strings are ignored.
func (r *Redactor) Add(secrets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range secrets {
		if s == "" {
			continue
		}
		r.secrets = append(r.secrets, s)
	}
}

// Redact replaces every occurrence of every registered secret in s with
// the mask token.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, Mask)
	}
	return s
}

// RedactErr returns the scrubbed message of err, or "" for a nil error.
func (r *Redactor) RedactErr(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}
