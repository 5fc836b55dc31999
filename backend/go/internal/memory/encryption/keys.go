package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
	"github.com/ShuhangGe/calendar/backend/go/pkg/util"
)

const derivedKeyLen = 32

// KeyDeriver computes per-user symmetric keys from the master secret,
// the user id and the user's secret. Derivation is deterministic and
// deliberately slow; derived keys are cached in memory only, keyed by
// a digest of the inputs, never by the secret itself.
type KeyDeriver struct {
	masterSecret string
	iterations   int
	cache        *util.LRUCache[string, []byte]
	// KDF calls are CPU-bound; this bounds them to the available cores
	// so a burst of logins cannot starve the rest of the process.
	sem chan struct{}
}

// NewKeyDeriver builds a deriver from the security config.
func NewKeyDeriver(cfg *config.SecurityConfig) (*KeyDeriver, error) {
	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("%w: master secret is empty", models.ErrKeyDerivation)
	}
	if cfg.PBKDF2Iterations <= 0 {
		return nil, fmt.Errorf("%w: iteration count must be positive", models.ErrKeyDerivation)
	}

	ttl, err := time.ParseDuration(cfg.KeyCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid keyCacheTTL %q", models.ErrKeyDerivation, cfg.KeyCacheTTL)
	}
	cache, err := util.NewWithConfig(util.CacheConfig[string, []byte]{
		Capacity: cfg.KeyCacheSize,
		TTL:      ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrKeyDerivation, err)
	}

	return &KeyDeriver{
		masterSecret: cfg.MasterSecret,
		iterations:   cfg.PBKDF2Iterations,
		cache:        cache,
		sem:          make(chan struct{}, runtime.GOMAXPROCS(0)),
	}, nil
}

// DeriveUserKey returns the 32-byte key for (userID, userSecret).
// Same inputs always produce the same key; a one-character change in
// the secret yields an unrelated key.
func (d *KeyDeriver) DeriveUserKey(ctx context.Context, userID, userSecret string) ([]byte, error) {
	if userID == "" || userSecret == "" {
		return nil, fmt.Errorf("%w: user id and secret are required", models.ErrKeyDerivation)
	}

	cacheKey := d.cacheKey(userID, userSecret)
	if key, ok := d.cache.Get(cacheKey); ok {
		return key, nil
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrKeyDerivation, ctx.Err())
	}
	defer func() { <-d.sem }()

	// Salt binds the key to both the user id and the secret, so two
	// users with the same password still get unrelated keys.
	salt := sha256.Sum256([]byte(userID + ":" + userSecret))
	password := []byte(userSecret + ":" + d.masterSecret)
	key := pbkdf2.Key(password, salt[:], d.iterations, derivedKeyLen, sha256.New)

	d.cache.Put(cacheKey, key, 1)
	return key, nil
}

// cacheKey digests the inputs so plaintext secrets never sit in the
// cache's key map.
func (d *KeyDeriver) cacheKey(userID, userSecret string) string {
	sum := sha256.Sum256([]byte("kdf:" + userID + ":" + userSecret))
	return hex.EncodeToString(sum[:])
}
