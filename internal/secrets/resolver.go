// Package secrets resolves secret references from the hub config and keeps
// the resolved values out of log output. References are env(VAR) or
// vault(path#key); the only secret the hub carries today is the owner key.
package secrets

import (
	"context"
	"strings"
)

// Resolver turns a secret reference into its value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// innerRef unwraps a scheme(...) reference, returning the inner text.
func innerRef(ref, scheme string) (string, bool) {
	open := scheme + "("
	if !strings.HasPrefix(ref, open) || !strings.HasSuffix(ref, ")") {
		return "", false
	}
	return ref[len(open) : len(ref)-1], true
}
