// Package identity derives the stable identifier this process registers
// under. The same deployment must come back with the same id after a
// restart, otherwise its device assignments look abandoned.
package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/logger"
)

// serverNamespace seeds the deterministic derivation. Fixed forever:
// changing it would re-identify every running deployment.
var serverNamespace = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

var reservedIDs = map[string]struct{}{
	"null":      {},
	"nil":       {},
	"admin":     {},
	"root":      {},
	"system":    {},
	"localhost": {},
	"default":   {},
}

const (
	minIDLength = 3
	maxIDLength = 128
)

// Provider resolves the server id exactly once. Resolve never fails:
// every bad input degrades to a random identifier.
type Provider struct {
	explicitID string
	stableSeed string

	once sync.Once
	id   string
}

// NewProvider builds a provider from the two configuration signals:
// explicitID (operator-chosen, wins when valid) and stableSeed (a
// deployment URL or hostname to hash deterministically).
func NewProvider(explicitID, stableSeed string) *Provider {
	return &Provider{
		explicitID: explicitID,
		stableSeed: stableSeed,
	}
}

// Resolve returns the server id, computing it on first call and caching
// it for the rest of the process lifetime.
func (p *Provider) Resolve() string {
	p.once.Do(func() {
		p.id = p.resolve()
	})
	return p.id
}

func (p *Provider) resolve() string {
	if p.explicitID != "" {
		if err := ValidateID(p.explicitID); err == nil {
			logger.Info("using configured server id", "server_id", p.explicitID)
			return p.explicitID
		} else {
			logger.Warn("configured server id is invalid, falling back to derived id",
				"server_id", p.explicitID, "error", err.Error())
		}
	}

	if seed := strings.TrimSpace(p.stableSeed); seed != "" {
		id := uuid.NewSHA1(serverNamespace, []byte(seed)).String()
		logger.Info("derived deterministic server id", "server_id", id, "seed", seed)
		return id
	}

	// No stable signal at all. This instance will not be recognized as
	// the same one after a restart.
	id, err := uuid.NewRandom()
	if err != nil {
		// rand failure; NewSHA1 over the zero namespace still gives a
		// usable, if fixed, identifier.
		logger.Error("random id generation failed", "error", err.Error())
		return uuid.NewSHA1(serverNamespace, []byte("fallback")).String()
	}
	logger.Warn("no stable identity signal, generated random server id", "server_id", id.String())
	return id.String()
}

// ValidateID checks an externally supplied identifier: 3-128 chars,
// alphanumerics plus `_`, `-`, `.`, no `..` or `//`, not a reserved word.
func ValidateID(id string) error {
	if len(id) < minIDLength {
		return &model.ValidationError{Field: "server_id", Reason: "too short"}
	}
	if len(id) > maxIDLength {
		return &model.ValidationError{Field: "server_id", Reason: "too long"}
	}
	if strings.Contains(id, "..") || strings.Contains(id, "//") {
		return &model.ValidationError{Field: "server_id", Reason: "contains path-like sequence"}
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return &model.ValidationError{Field: "server_id", Reason: "invalid character"}
		}
	}
	if _, ok := reservedIDs[strings.ToLower(id)]; ok {
		return &model.ValidationError{Field: "server_id", Reason: "reserved word"}
	}
	return nil
}
