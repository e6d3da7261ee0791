package keymgmt

import (
	"errors"
	"log/slog"
	"sync"
)

// CurrentKeyHolder is the single slot holding the key new tokens are signed
// with. Rotation swaps it; signers copy it out per signature.
type CurrentKeyHolder struct {
	mu     sync.Mutex
	kid    string
	key    GeneratedKey
	set    bool
	logger *slog.Logger
}

// NewCurrentKeyHolder returns an empty holder.
func NewCurrentKeyHolder(logger *slog.Logger) *CurrentKeyHolder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CurrentKeyHolder{logger: logger}
}

// Set replaces the current key.
func (h *CurrentKeyHolder) Set(kid string, key GeneratedKey) error {
	if kid == "" {
		return errors.New("signing key id must not be empty")
	}
	if key.Signer == nil && len(key.Secret) == 0 {
		return errors.New("signing key material must not be empty")
	}

	h.mu.Lock()
	prev := h.key.Type
	wasSet := h.set
	h.kid, h.key, h.set = kid, key, true
	h.mu.Unlock()

	if wasSet && prev != key.Type {
		h.logger.Warn("signing key type changed", "from", prev, "to", key.Type, "kid", kid)
	}
	return nil
}

// Current returns the current key id and key.
func (h *CurrentKeyHolder) Current() (string, GeneratedKey, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kid, h.key, h.set
}
