package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RuleSetting is one alert rule's toggle plus its trip threshold.
// Threshold units vary by rule: percent for variance, keg_near_empty,
// large_adjustment and shrinkage_pattern, whole days for stale_count,
// failed attempts for login_failures. low_stock and par_reorder compare
// against per-item minimum levels, so only the toggle applies to them.
type RuleSetting struct {
	Enabled   bool            `json:"enabled"`
	Threshold decimal.Decimal `json:"threshold"`
}

// ThresholdInt truncates the threshold for rules measured in counts.
func (r RuleSetting) ThresholdInt() int {
	return int(r.Threshold.IntPart())
}

// AlertRules groups the dispatcher's per-rule configuration.
type AlertRules struct {
	Variance        RuleSetting `json:"variance"`
	LowStock        RuleSetting `json:"low_stock"`
	StaleCount      RuleSetting `json:"stale_count"`
	KegNearEmpty    RuleSetting `json:"keg_near_empty"`
	LoginFailures   RuleSetting `json:"login_failures"`
	LargeAdjustment RuleSetting `json:"large_adjustment"`
	Shrinkage       RuleSetting `json:"shrinkage_pattern"`
	ParReorder      RuleSetting `json:"par_reorder"`
}

// AutoLock is the client idle-lock policy. The server stores and serves
// it; enforcement happens on the device.
type AutoLock struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	AllowPIN       bool `json:"allow_pin"`
	AllowBiometric bool `json:"allow_biometric"`
}

// Capabilities are feature toggles the mobile clients read.
type Capabilities struct {
	VoiceCommands           bool `json:"voice_commands"`
	StaffArtMode            bool `json:"staff_art_mode"`
	ProofPhotoRetentionDays int  `json:"proof_photo_retention_days"`
}

// Settings are the tunable knobs the engines and clients read.
// Resolution is layered: compiled defaults, then the business document,
// then the location document, each JSON-merged over the previous layer.
type Settings struct {
	Alerts       AlertRules   `json:"alerts"`
	AutoLock     AutoLock     `json:"auto_lock"`
	Capabilities Capabilities `json:"capabilities"`

	TapFlowWins           bool   `json:"tap_flow_wins"`
	SessionMaxAgeHours    int    `json:"session_max_age_hours"`
	LoginFailureWindowMin int    `json:"login_failure_window_min"`
	ShrinkageMinSessions  int    `json:"shrinkage_min_sessions"`
	ShrinkageConsecutive  int    `json:"shrinkage_consecutive"`
	ShrinkageWindowDays   int    `json:"shrinkage_window_days"`
	VelocityWindowDays    int    `json:"velocity_window_days"`
	// EndOfDayTime is HH:MM in the location's local timezone.
	EndOfDayTime string `json:"end_of_day_time"`
	Currency     string `json:"currency"`
}

// DefaultSettings returns the compiled-in baseline every scope starts
// from.
func DefaultSettings() Settings {
	on := func(threshold string) RuleSetting {
		return RuleSetting{Enabled: true, Threshold: decimal.RequireFromString(threshold)}
	}
	return Settings{
		Alerts: AlertRules{
			Variance:        on("10"),
			LowStock:        on("0"),
			StaleCount:      on("7"),
			KegNearEmpty:    on("10"),
			LoginFailures:   on("5"),
			LargeAdjustment: on("25"),
			Shrinkage:       on("5"),
			ParReorder:      on("0"),
		},
		AutoLock: AutoLock{
			Enabled:        true,
			TimeoutSeconds: 300,
			AllowPIN:       true,
			AllowBiometric: true,
		},
		Capabilities: Capabilities{
			ProofPhotoRetentionDays: 30,
		},
		TapFlowWins:           true,
		SessionMaxAgeHours:    24,
		LoginFailureWindowMin: 15,
		ShrinkageMinSessions:  3,
		ShrinkageConsecutive:  3,
		ShrinkageWindowDays:   90,
		VelocityWindowDays:    14,
		EndOfDayTime:          "04:00",
		Currency:              "USD",
	}
}

// ParseEndOfDay splits the HH:MM end-of-day time.
func (st Settings) ParseEndOfDay() (hour, minute int, err error) {
	t, err := time.Parse("15:04", st.EndOfDayTime)
	if err != nil {
		return 0, 0, ErrValidation("end_of_day_time must be HH:MM: %v", err)
	}
	return t.Hour(), t.Minute(), nil
}

// SettingsService resolves and updates the layered settings documents.
type SettingsService interface {
	ForBusiness(ctx context.Context, businessID int64) (*Settings, error)
	ForLocation(ctx context.Context, locationID int64) (*Settings, error)
	UpdateBusiness(ctx context.Context, businessID int64, patch json.RawMessage) (*Settings, error)
	UpdateLocation(ctx context.Context, locationID int64, patch json.RawMessage) (*Settings, error)
}

type settingsService struct {
	pool *pgxpool.Pool
}

func NewSettingsService(pool *pgxpool.Pool) SettingsService {
	return &settingsService{pool: pool}
}

func (s *settingsService) businessDoc(ctx context.Context, businessID int64) (json.RawMessage, error) {
	var doc json.RawMessage
	err := s.pool.QueryRow(ctx,
		"SELECT doc FROM business_settings WHERE business_id = $1", businessID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch business settings: %w", err)
	}
	return doc, nil
}

func (s *settingsService) locationDoc(ctx context.Context, locationID int64) (int64, json.RawMessage, error) {
	var businessID int64
	var doc *json.RawMessage
	err := s.pool.QueryRow(ctx, `
		SELECT l.business_id, ls.doc
		FROM locations l
		LEFT JOIN location_settings ls ON ls.location_id = l.id
		WHERE l.id = $1
	`, locationID).Scan(&businessID, &doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNotFound("location", locationID)
		}
		return 0, nil, fmt.Errorf("failed to fetch location settings: %w", err)
	}
	if doc == nil {
		return businessID, nil, nil
	}
	return businessID, *doc, nil
}

func mergeDoc(base Settings, doc json.RawMessage) (Settings, error) {
	if len(doc) == 0 {
		return base, nil
	}
	// Unmarshal into the existing struct: only keys present in the doc
	// move, everything else keeps the lower layer's value.
	if err := json.Unmarshal(doc, &base); err != nil {
		return base, ErrValidation("malformed settings document: %v", err)
	}
	return base, nil
}

func (st Settings) validate() error {
	if st.Alerts.Variance.Threshold.IsNegative() {
		return ErrValidation("variance threshold cannot be negative")
	}
	if st.SessionMaxAgeHours <= 0 || st.VelocityWindowDays <= 0 {
		return ErrValidation("windows and ages must be positive")
	}
	if st.Alerts.StaleCount.ThresholdInt() <= 0 {
		return ErrValidation("stale count threshold must be a positive day count")
	}
	if st.ShrinkageMinSessions <= 0 || st.ShrinkageConsecutive <= 0 || st.ShrinkageWindowDays <= 0 {
		return ErrValidation("shrinkage detector parameters must be positive")
	}
	if st.Alerts.KegNearEmpty.Threshold.IsNegative() || st.Alerts.KegNearEmpty.Threshold.GreaterThan(hundred) {
		return ErrValidation("keg near-empty percent must be within [0, 100]")
	}
	if st.AutoLock.TimeoutSeconds <= 0 {
		return ErrValidation("auto-lock timeout must be positive")
	}
	if _, _, err := st.ParseEndOfDay(); err != nil {
		return err
	}
	return nil
}

func (s *settingsService) ForBusiness(ctx context.Context, businessID int64) (*Settings, error) {
	doc, err := s.businessDoc(ctx, businessID)
	if err != nil {
		return nil, err
	}
	merged, err := mergeDoc(DefaultSettings(), doc)
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

func (s *settingsService) ForLocation(ctx context.Context, locationID int64) (*Settings, error) {
	businessID, locDoc, err := s.locationDoc(ctx, locationID)
	if err != nil {
		return nil, err
	}
	bizDoc, err := s.businessDoc(ctx, businessID)
	if err != nil {
		return nil, err
	}
	merged, err := mergeDoc(DefaultSettings(), bizDoc)
	if err != nil {
		return nil, err
	}
	merged, err = mergeDoc(merged, locDoc)
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// UpdateBusiness applies a JSON patch over the business's effective
// settings and stores the full resulting document.
func (s *settingsService) UpdateBusiness(ctx context.Context, businessID int64, patch json.RawMessage) (*Settings, error) {
	current, err := s.ForBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	next, err := mergeDoc(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := next.validate(); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO business_settings (business_id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (business_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, businessID, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to store business settings: %w", err)
	}
	return &next, nil
}

func (s *settingsService) UpdateLocation(ctx context.Context, locationID int64, patch json.RawMessage) (*Settings, error) {
	current, err := s.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	next, err := mergeDoc(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := next.validate(); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO location_settings (location_id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (location_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, locationID, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to store location settings: %w", err)
	}
	return &next, nil
}

// staleCutoff is a convenience for engines working in day windows.
func staleCutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
