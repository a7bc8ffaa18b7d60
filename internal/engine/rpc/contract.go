package rpc

import (
	"strings"

	"omniworker/internal/core/errors"
)

// Contract declares the functions a worker must expose.
type Contract struct {
	Name      string
	Functions []string
}

// Verify fails with a validation error listing every missing function.
func (c Contract) Verify(p *Proxy) error {
	var missing []string
	for _, fn := range c.Functions {
		fn = strings.TrimSpace(fn)
		if fn != "" && !p.Has(fn) {
			missing = append(missing, fn)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	name := c.Name
	if name == "" {
		name = "worker"
	}
	return errors.Newf(errors.CodeValidationError, "%s does not expose required functions: %s", name, strings.Join(missing, ", "))
}
