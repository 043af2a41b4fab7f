package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anesthmed/anesthmed/internal/platform/db"
)

// Persisted setting keys.
const (
	KeyCoefficients     = "alerts.coefficients"
	KeyStaticThresholds = "alerts.static_thresholds"
	KeyDynamicEnabled   = "alerts.dynamic_enabled"
)

// SettingsStore reads and writes the alert configuration in the settings
// key-value table.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore constructs SettingsStore.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Load returns the persisted configuration. Missing keys keep their defaults.
func (s *SettingsStore) Load(ctx context.Context) (Config, error) {
	if s == nil || s.pool == nil {
		return Config{}, errors.New("alerts settings store not initialised")
	}
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings WHERE key = ANY($1)`,
		[]string{KeyCoefficients, KeyStaticThresholds, KeyDynamicEnabled})
	if err != nil {
		return Config{}, fmt.Errorf("alerts: load settings: %w", err)
	}
	defer rows.Close()
	values := map[string][]byte{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return Config{}, err
		}
		values[key] = raw
	}
	if err := rows.Err(); err != nil {
		return Config{}, err
	}
	return Decode(values)
}

// Decode overlays raw JSON settings on DefaultConfig.
func Decode(values map[string][]byte) (Config, error) {
	cfg := DefaultConfig()
	targets := map[string]any{
		KeyCoefficients:     &cfg.Coefficients,
		KeyStaticThresholds: &cfg.Static,
		KeyDynamicEnabled:   &cfg.DynamicEnabled,
	}
	for key, target := range targets {
		raw, ok := values[key]
		if !ok || len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return Config{}, fmt.Errorf("alerts: decode %s: %w", key, err)
		}
	}
	return cfg, nil
}

// Save persists cfg atomically after validating it.
func (s *SettingsStore) Save(ctx context.Context, cfg Config) error {
	if s == nil || s.pool == nil {
		return errors.New("alerts settings store not initialised")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	values := map[string]any{
		KeyCoefficients:     cfg.Coefficients,
		KeyStaticThresholds: cfg.Static,
		KeyDynamicEnabled:   cfg.DynamicEnabled,
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for key, value := range values {
			raw, err := json.Marshal(value)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, raw); err != nil {
				return fmt.Errorf("alerts: save %s: %w", key, err)
			}
		}
		return nil
	})
}
