// Package env composes the extra environment handed to the relay and the
// encoder, e.g. MTX_* overrides for mediamtx or FFREPORT for ffmpeg.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env resolves "K=V" entries against a base environment.
type Env struct {
	base Var // cached base from OS environment, nil until first use
}

func New() *Env { return &Env{} }

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

// With replaces the base, mostly for tests.
func (e *Env) With(base Var) *Env {
	e.base = base
	return e
}

// Expand returns entries in input order with ${VAR} and $VAR references
// resolved against the base and against earlier entries. Malformed entries
// and entries with an empty key are dropped; a later duplicate key wins.
func (e *Env) Expand(entries []string) []string {
	if len(entries) == 0 {
		return nil
	}
	if e.base == nil {
		e.FromOS()
	}
	seen := make(Var, len(entries))
	lookup := func(k string) string {
		if v, ok := seen[k]; ok {
			return v
		}
		return e.base[k]
	}
	order := make([]string, 0, len(entries))
	for _, kv := range entries {
		k, v, ok := split(kv)
		if !ok {
			continue
		}
		if _, dup := seen[k]; !dup {
			order = append(order, k)
		}
		seen[k] = os.Expand(v, lookup)
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+seen[k])
	}
	return out
}

// Expand resolves entries against the OS environment.
func Expand(entries []string) []string { return New().Expand(entries) }

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
