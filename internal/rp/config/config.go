// Package config holds relying party settings.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	platformconfig "github.com/louisbranch/passkey-rp/internal/platform/config"
	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/vault"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPID      string   `env:"PASSKEY_RP_ID"        envDefault:"localhost"`
	RPName    string   `env:"PASSKEY_RP_NAME"      envDefault:"localhost"`
	RPOrigins []string `env:"PASSKEY_RP_ORIGINS"   envSeparator:"," envDefault:"http://localhost:8000"`

	ChallengeTTL time.Duration `env:"PASSKEY_RP_CHALLENGE_TTL" envDefault:"120s"`
	SessionTTL   time.Duration `env:"PASSKEY_RP_SESSION_TTL"   envDefault:"12h"`

	// SessionSecret signs the session cookie. The default is for local
	// development only.
	SessionSecret string `env:"PASSKEY_RP_SESSION_SECRET" envDefault:"dev-only-change-me"`

	// CredentialKeyB64 is the AES-256-GCM credential encryption key in
	// base64url without padding. When empty a volatile key is generated and
	// previously written ciphertext becomes unreadable after restart.
	CredentialKeyB64 string `env:"PASSKEY_RP_CRED_ENC_KEY"`

	DBPath   string `env:"PASSKEY_RP_DB_PATH"   envDefault:"passkey-rp.sqlite3"`
	HTTPAddr string `env:"PASSKEY_RP_HTTP_ADDR" envDefault:":8000"`
}

// LoadFromEnv returns relying party configuration with defaults.
func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := platformconfig.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.RPName) == "" {
		cfg.RPName = cfg.RPID
	}
	return cfg, nil
}

// CredentialKey decodes the configured credential encryption key, or mints a
// volatile one when none is configured. The key must be stable across
// restarts for stored credentials to survive; that is an operational
// requirement, not an implementation detail.
func (c Config) CredentialKey() ([]byte, error) {
	encoded := strings.TrimSpace(c.CredentialKeyB64)
	if encoded == "" {
		key := make([]byte, vault.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, errors.Wrap(errors.CodeCryptoFailure, "generate volatile credential key", err)
		}
		return key, nil
	}
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCryptoFailure, "decode credential key", err)
	}
	if len(key) != vault.KeySize {
		return nil, errors.New(errors.CodeCryptoFailure, "credential key must decode to exactly 32 bytes")
	}
	return key, nil
}
