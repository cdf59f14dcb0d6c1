package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/repository"
	"github.com/getoutvideo/gateway/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrKeyNotFound  = errors.New("invalid API key")
	ErrKeyInactive  = errors.New("API key is inactive")
	ErrKeyIDUnknown = errors.New("API key not found")
	ErrKeyExists    = errors.New("an API key already exists")

	// ErrCacheInvalidation means cached lookups could not be retired, so a
	// rotate or (de)activation was refused or may not be visible yet.
	ErrCacheInvalidation = errors.New("failed to invalidate API key cache")
)

const (
	cacheKeyPrefix = "apikey:cache:"
	// cacheGenerationKey is bumped whenever a key changes. Entries written
	// under an older generation are ignored.
	cacheGenerationKey = "apikey:generation"
)

type cacheEntry struct {
	Generation int64          `json:"generation"`
	APIKey     *models.APIKey `json:"api_key"`
}

// IssuedKey carries a plain secret. It is the only place the secret
// exists after generation.
type IssuedKey struct {
	APIKey *models.APIKey
	Secret string
}

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
	cacheTTL   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewAPIKeyService builds the key store. redis may be nil, in which case
// every lookup goes to the database.
func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient, cacheTTL time.Duration, logger *zap.Logger) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &APIKeyService{
		repository: repo,
		redis:      redis,
		cacheTTL:   cacheTTL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *APIKeyService) Create(ctx context.Context, name string) (*IssuedKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	apiKey := &models.APIKey{
		Name:      name,
		KeyHash:   HashSecret(secret),
		KeyPrefix: DisplayPrefix(secret),
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, apiKey); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &IssuedKey{APIKey: apiKey, Secret: secret}, nil
}

// FindByKey looks a secret up by its digest. It returns ErrKeyNotFound
// when no key matches; any other error means storage is unavailable.
func (s *APIKeyService) FindByKey(ctx context.Context, secret string) (*models.APIKey, error) {
	keyHash := HashSecret(secret)

	// The generation is read before the database so that a change committed
	// after this point retires whatever this lookup writes back.
	cachedKey, generation, fillable := s.cached(ctx, keyHash)
	if cachedKey != nil {
		return cachedKey, nil
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	if apiKey == nil {
		return nil, ErrKeyNotFound
	}

	if fillable {
		s.cache(ctx, apiKey, generation)
	}

	return apiKey, nil
}

// Authenticate is FindByKey plus the active check.
func (s *APIKeyService) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	apiKey, err := s.FindByKey(ctx, secret)
	if err != nil {
		return nil, err
	}

	if !apiKey.IsActive {
		return apiKey, ErrKeyInactive
	}

	return apiKey, nil
}

// Touch records a successful use. The stored timestamp never decreases.
func (s *APIKeyService) Touch(ctx context.Context, apiKey *models.APIKey) error {
	if err := s.repository.UpdateLastUsed(ctx, apiKey.ID, s.now()); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// Rotate replaces the secret of an existing key. The previous secret
// stops authenticating as soon as this returns.
func (s *APIKeyService) Rotate(ctx context.Context, id uuid.UUID) (*IssuedKey, error) {
	apiKey, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	oldHash := apiKey.KeyHash
	newHash := HashSecret(secret)
	prefix := DisplayPrefix(secret)

	if err := s.bumpGeneration(ctx); err != nil {
		return nil, fmt.Errorf("API key not rotated: %w", err)
	}

	if err := s.repository.ReplaceKey(ctx, id, newHash, prefix); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyIDUnknown
		}
		return nil, fmt.Errorf("failed to rotate API key: %w", err)
	}

	if err := s.bumpGeneration(ctx); err != nil {
		return nil, fmt.Errorf("API key rotated, rotate again once the cache is reachable: %w", err)
	}
	s.dropCached(ctx, oldHash)

	apiKey.KeyHash = newHash
	apiKey.KeyPrefix = prefix

	return &IssuedKey{APIKey: apiKey, Secret: secret}, nil
}

func (s *APIKeyService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.APIKey, error) {
	apiKey, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.bumpGeneration(ctx); err != nil {
		return nil, fmt.Errorf("API key not updated: %w", err)
	}

	if err := s.repository.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyIDUnknown
		}
		return nil, fmt.Errorf("failed to update API key: %w", err)
	}

	if err := s.bumpGeneration(ctx); err != nil {
		return nil, fmt.Errorf("API key updated, repeat once the cache is reachable: %w", err)
	}
	s.dropCached(ctx, apiKey.KeyHash)
	apiKey.IsActive = active

	return apiKey, nil
}

// Provision creates the first key, or rotates the oldest key when one
// already exists and rotate is set. Without rotate it returns ErrKeyExists
// together with the existing key.
func (s *APIKeyService) Provision(ctx context.Context, name string, rotate bool) (*IssuedKey, error) {
	existing, err := s.repository.First(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load API keys: %w", err)
	}

	if existing == nil {
		return s.Create(ctx, name)
	}

	if !rotate {
		return &IssuedKey{APIKey: existing}, ErrKeyExists
	}

	return s.Rotate(ctx, existing.ID)
}

func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}
	if apiKey == nil {
		return nil, ErrKeyIDUnknown
	}
	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) Count(ctx context.Context) (int64, error) {
	return s.repository.Count(ctx)
}

// cached returns the entry for keyHash when it belongs to the current
// generation. fillable reports whether generation was read and may be
// used to cache a database result.
func (s *APIKeyService) cached(ctx context.Context, keyHash string) (apiKey *models.APIKey, generation int64, fillable bool) {
	if s.redis == nil {
		return nil, 0, false
	}

	values, err := s.redis.MGet(ctx, cacheKeyPrefix+keyHash, cacheGenerationKey)
	if err != nil {
		s.logger.Warn("api key cache read failed", zap.Error(err))
		return nil, 0, false
	}

	if raw, ok := values[1].(string); ok {
		generation, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn("api key cache generation is corrupt", zap.String("value", raw))
			return nil, 0, false
		}
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, true
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.APIKey == nil {
		return nil, generation, true
	}
	if entry.Generation != generation {
		return nil, generation, true
	}

	entry.APIKey.KeyHash = keyHash
	return entry.APIKey, generation, true
}

func (s *APIKeyService) cache(ctx context.Context, apiKey *models.APIKey, generation int64) {
	if s.redis == nil || s.cacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(cacheEntry{Generation: generation, APIKey: apiKey})
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, cacheKeyPrefix+apiKey.KeyHash, data, s.cacheTTL); err != nil {
		s.logger.Warn("api key cache write failed", zap.Error(err))
	}
}

// bumpGeneration retires every cache entry written before it.
func (s *APIKeyService) bumpGeneration(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}

	if _, err := s.redis.Incr(ctx, cacheGenerationKey); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}
	return nil
}

// dropCached frees the entry of a retired secret. Its generation is already
// stale, so a failure only costs memory until the TTL.
func (s *APIKeyService) dropCached(ctx context.Context, keyHash string) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Del(ctx, cacheKeyPrefix+keyHash); err != nil {
		s.logger.Warn("api key cache delete failed", zap.Error(err))
	}
}
