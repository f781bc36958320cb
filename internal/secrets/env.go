package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvResolver serves env(VAR) references from the process environment.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (*EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := innerRef(ref, "env")
	if !ok {
		return "", fmt.Errorf("secret ref %q is not env(VAR)", ref)
	}
	value, set := os.LookupEnv(name)
	if !set {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}
