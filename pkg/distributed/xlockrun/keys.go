package xlockrun

import "strings"

// LockKey is the tagged "string or sequence of strings" variant from
// spec §3/§9, normalized immediately to an ordered sequence. Build one
// with Key or Keys; the zero value is invalid (Run rejects it with
// ErrInvalidLockKey).
type LockKey struct {
	keys []string
}

// Key builds a LockKey guarding a single named resource.
func Key(key string) LockKey {
	return LockKey{keys: []string{key}}
}

// Keys builds a LockKey guarding an ordered sequence of named resources.
// Order is preserved in Strings and in the Runner's slice of acquired
// handles; acquisition, extension and release themselves run in
// parallel, so they do not happen in this order (spec §4.3).
func Keys(keys ...string) LockKey {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return LockKey{keys: cp}
}

// Strings returns the normalized ordered sequence of keys.
func (k LockKey) Strings() []string { return k.keys }

// Len reports how many keys are in the sequence.
func (k LockKey) Len() int { return len(k.keys) }

// validate enforces spec §4.5: every key must contain at least one
// non-whitespace character (blank keys such as "  " are rejected) and
// the sequence itself must be non-empty (see DESIGN.md Open Question 2
// for why the empty sequence is rejected rather than treated as a
// degenerate no-lock invocation).
func (k LockKey) validate() error {
	if len(k.keys) == 0 {
		return ErrInvalidLockKey
	}
	for _, key := range k.keys {
		if strings.TrimSpace(key) == "" {
			return ErrInvalidLockKey
		}
	}
	return nil
}
