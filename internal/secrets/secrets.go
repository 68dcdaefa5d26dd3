// Package secrets keeps the bot's credentials in an encrypted file so they
// need not live in the config file or the shell environment.
package secrets

import (
	"errors"

	"relaybot/internal/domain"
)

// Well-known secret names.
const (
	TelegramToken = "telegram_bot_token"
	OpenAIKey     = "openai_api_key"
)

// ErrNotFound is returned when a secret is not found.
var ErrNotFound = errors.New("secret not found")

// Store stores and retrieves named secrets.
type Store interface {
	// Get returns the secret for name, or ErrNotFound.
	Get(name string) (string, error)
	// Set stores the secret for name, overwriting any previous value.
	Set(name, value string) error
	// Delete removes name. Deleting a missing name is not an error.
	Delete(name string) error
}

// Fill copies credentials from s into the fields of cfg that are still empty.
// Values from the config file or environment always win.
func Fill(cfg *domain.Config, s Store) error {
	if cfg == nil || s == nil {
		return nil
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{TelegramToken, &cfg.Telegram.Token},
		{OpenAIKey, &cfg.OpenAI.APIKey},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, err := s.Get(f.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}
