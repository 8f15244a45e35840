package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/pkg/model"
)

// ErrUnknownField is returned for a credential field the store does not hold.
var ErrUnknownField = errors.New("unknown credential field")

// Store defines the contract for persisting per-user panel credentials.
type Store interface {
	// FindCredential returns the user's record, or (nil, nil) when none exists.
	FindCredential(ctx context.Context, userID string) (*model.CredentialRecord, error)
	// SetCredential stores key in field, creating the record on first use.
	SetCredential(ctx context.Context, userID string, field model.CredentialField, key string) error
	// ClearCredential unsets field. Clearing an unset field is a no-op.
	ClearCredential(ctx context.Context, userID string, field model.CredentialField) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// pgDB is the subset of *pgxpool.Pool the store queries through.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// HybridStore keeps credentials in Postgres with a Redis read-through cache.
// Without Postgres, Redis is the only copy and entries never expire.
// Key values are AES-256-GCM sealed in both places.
type HybridStore struct {
	redis    *redis.Client
	PG       *pgxpool.Pool
	db       pgDB
	sealer   *sealer
	cacheTTL time.Duration
	logger   *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Options configure NewHybrid.
type Options struct {
	RedisAddr string
	RedisDB   int
	RedisPass string
	PGURL     string
	PGPool    PGPoolConfig
	// Key is the 32-byte AES key; nil makes every operation fail with ErrEncryptionKeyNotSet.
	Key      []byte
	CacheTTL time.Duration
}

const (
	keyPrefix = "panelbot:credentials:"
	genPrefix = "panelbot:credgen:"
)

// redis hash field carrying the record's update time; "0" marks a cached absence.
const fieldUpdatedAt = "updated_at"

// NewHybrid creates a Redis-first, Postgres-backed credential store.
func NewHybrid(opts Options, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sl, err := newSealer(opts.Key)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		DB:       opts.RedisDB,
		Password: opts.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := &HybridStore{redis: rdb, sealer: sl, cacheTTL: opts.CacheTTL, logger: logger}

	if opts.PGURL != "" {
		cfg, err := pgxpool.ParseConfig(opts.PGURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if opts.PGPool.MaxConns > 0 {
			cfg.MaxConns = opts.PGPool.MaxConns
		}
		if opts.PGPool.MinConns > 0 {
			cfg.MinConns = opts.PGPool.MinConns
		}
		if opts.PGPool.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = opts.PGPool.MaxConnLifetime
		}
		if opts.PGPool.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = opts.PGPool.MaxConnIdleTime
		}
		if opts.PGPool.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = opts.PGPool.HealthCheckPeriod
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s.PG = pool
		s.db = pool
	}

	return s, nil
}

// FindCredential returns the user's decrypted record, or nil when absent.
func (s *HybridStore) FindCredential(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	if s.sealer == nil {
		return nil, ErrEncryptionKeyNotSet
	}

	sealed, hit, err := s.readCache(ctx, userID)
	switch {
	case err != nil && s.db == nil:
		return nil, err
	case err != nil:
		s.logger.Warn("store.redis.read_failed", zap.String("user_id", userID), zap.Error(err))
	case hit || s.db == nil:
		return s.open(sealed)
	}

	// a write landing between the read below and the refill bumps the
	// generation, and the refill is dropped
	gen, genErr := s.generation(ctx, userID)

	sealed, err = s.pgFind(ctx, userID)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		s.writeCache(ctx, userID, gen, sealed)
	}
	return s.open(sealed)
}

// SetCredential seals key and stores it in field.
func (s *HybridStore) SetCredential(ctx context.Context, userID string, field model.CredentialField, key string) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	sealed, err := s.sealer.seal(key)
	if err != nil {
		return err
	}

	if s.db == nil {
		return s.redisOnlySet(ctx, userID, field, sealed)
	}

	// column name comes from the validated field, never from input
	query := fmt.Sprintf(`
		INSERT INTO bot.panel_credentials (user_id, %[1]s, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET %[1]s = EXCLUDED.%[1]s, updated_at = NOW();
	`, field)
	if _, err := s.db.Exec(ctx, query, userID, sealed); err != nil {
		s.logger.Error("store.pg.set_credential_failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("set credential: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// ClearCredential unsets field for userID. Absent records are left absent.
func (s *HybridStore) ClearCredential(ctx context.Context, userID string, field model.CredentialField) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if s.sealer == nil {
		return ErrEncryptionKeyNotSet
	}

	if s.db == nil {
		return s.redisOnlyClear(ctx, userID, field)
	}

	query := fmt.Sprintf(`
		UPDATE bot.panel_credentials
		SET %s = NULL, updated_at = NOW()
		WHERE user_id = $1;
	`, field)
	if _, err := s.db.Exec(ctx, query, userID); err != nil {
		s.logger.Error("store.pg.clear_credential_failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("clear credential: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *HybridStore) pgFind(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	rec := &model.CredentialRecord{}
	err := s.db.QueryRow(ctx, `
		SELECT user_id, core_panel_key, public_panel_key, updated_at
		FROM bot.panel_credentials
		WHERE user_id = $1;
	`, userID).Scan(&rec.UserID, &rec.CorePanelKey, &rec.PublicPanelKey, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return rec, nil
}

// open decrypts a sealed record. Empty records read as absent.
func (s *HybridStore) open(sealed *model.CredentialRecord) (*model.CredentialRecord, error) {
	if sealed.Empty() {
		return nil, nil
	}
	core, err := s.sealer.openPtr(sealed.CorePanelKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", model.FieldCorePanelKey, err)
	}
	public, err := s.sealer.openPtr(sealed.PublicPanelKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", model.FieldPublicPanelKey, err)
	}
	return &model.CredentialRecord{
		UserID:         sealed.UserID,
		CorePanelKey:   core,
		PublicPanelKey: public,
		UpdatedAt:      sealed.UpdatedAt,
	}, nil
}

// --- Redis ---

func cacheKey(userID string) string {
	return keyPrefix + userID
}

func genKey(userID string) string {
	return genPrefix + userID
}

// generation returns the user's write counter; a missing counter reads as "0".
func (s *HybridStore) generation(ctx context.Context, userID string) (string, error) {
	if s.redis == nil {
		return "", errors.New("redis not initialized")
	}
	gen, err := s.redis.Get(ctx, genKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// readCache returns the sealed record held in Redis and whether the key existed.
func (s *HybridStore) readCache(ctx context.Context, userID string) (*model.CredentialRecord, bool, error) {
	if s.redis == nil {
		return nil, false, errors.New("redis not initialized")
	}
	vals, err := s.redis.HGetAll(ctx, cacheKey(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}

	rec := &model.CredentialRecord{UserID: userID}
	for _, f := range model.CredentialFields {
		if v, ok := vals[string(f)]; ok {
			rec.SetKey(f, &v)
		}
	}
	if ns, err := strconv.ParseInt(vals[fieldUpdatedAt], 10, 64); err == nil && ns > 0 {
		rec.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return rec, true, nil
}

// errStaleRefill aborts a cache refill whose Postgres read predates a write.
var errStaleRefill = errors.New("credential changed during refill")

// writeCache stores a sealed record, or an absence marker when rec is nil,
// provided the user's generation still equals gen.
func (s *HybridStore) writeCache(ctx context.Context, userID, gen string, rec *model.CredentialRecord) {
	if s.redis == nil {
		return
	}
	vals := map[string]any{fieldUpdatedAt: "0"}
	if rec != nil {
		vals[fieldUpdatedAt] = strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10)
		for _, f := range model.CredentialFields {
			if v, ok := rec.Key(f); ok {
				vals[string(f)] = v
			}
		}
	}

	key, gk := cacheKey(userID), genKey(userID)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Result()
		if errors.Is(err, redis.Nil) {
			cur = "0"
		} else if err != nil {
			return err
		}
		if cur != gen {
			return errStaleRefill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, vals)
			if s.cacheTTL > 0 {
				pipe.Expire(ctx, key, s.cacheTTL)
			}
			return nil
		})
		return err
	}, gk)

	switch {
	case err == nil:
	case errors.Is(err, errStaleRefill), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("store.redis.cache_refill_skipped", zap.String("user_id", userID))
	default:
		s.logger.Warn("store.redis.cache_write_failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// invalidate bumps the user's generation and drops the cached record, so an
// in-flight refill read before the write cannot repopulate it.
func (s *HybridStore) invalidate(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(userID))
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		s.logger.Warn("store.redis.invalidate_failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *HybridStore) redisOnlySet(ctx context.Context, userID string, field model.CredentialField, sealed string) error {
	if s.redis == nil {
		return errors.New("redis not initialized")
	}
	err := s.redis.HSet(ctx, cacheKey(userID),
		string(field), sealed,
		fieldUpdatedAt, strconv.FormatInt(time.Now().UnixNano(), 10),
	).Err()
	if err != nil {
		s.logger.Error("store.redis.set_credential_failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// redisOnlyClear removes field. A hash left holding only its timestamp reads
// as an absent record.
func (s *HybridStore) redisOnlyClear(ctx context.Context, userID string, field model.CredentialField) error {
	if s.redis == nil {
		return errors.New("redis not initialized")
	}
	if err := s.redis.HDel(ctx, cacheKey(userID), string(field)).Err(); err != nil {
		s.logger.Error("store.redis.clear_credential_failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// --- Lifecycle ---

// HealthCheck verifies Redis and, when configured, Postgres.
func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return errors.New("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

// Close releases the Redis client and the Postgres pool.
func (s *HybridStore) Close() error {
	var err error
	if s.redis != nil {
		err = s.redis.Close()
	}
	if s.PG != nil {
		s.PG.Close()
	}
	return err
}
