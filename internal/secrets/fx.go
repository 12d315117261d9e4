package secrets

import (
	"strings"

	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/config"
)

// newFromConfig yields a nil cipher when no key is configured so that
// deployments without encrypted config values still start. A present
// but malformed key fails loudly.
func newFromConfig(cfg config.Config) (*Cipher, error) {
	if strings.TrimSpace(cfg.SecretsKeyHex) == "" {
		return nil, nil
	}
	return NewCipher(cfg.SecretsKeyHex)
}

var Module = fx.Module("secrets",
	fx.Provide(newFromConfig),
)
