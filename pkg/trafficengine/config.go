package trafficengine

import (
	"fmt"
	"time"
)

const (
	MinFadeDuration = 1 * time.Second
	MaxFadeDuration = 60 * time.Second
	MaxGraceWindow  = 60 * time.Second
)

// Config is the runtime-tunable state of the engine. It is passed explicitly into the store
// and the decay scheduler rather than living in globals.
type Config struct {
	MaxVisibleItems int           `mapstructure:"max_visible_items" json:"max_visible_items"`
	FadeDuration    time.Duration `mapstructure:"fade_duration" json:"fade_duration"`
	// GraceWindow enables the secondary ramp: entities hold their base opacity for
	// FadeDuration and then fade linearly over GraceWindow. Zero disables it.
	GraceWindow    time.Duration `mapstructure:"grace_window" json:"grace_window"`
	ShowSuspicious bool          `mapstructure:"show_suspicious" json:"show_suspicious"`
	Radius         float64       `mapstructure:"radius" json:"radius"`
	HistorySize    int           `mapstructure:"history_size" json:"history_size"`
}

func DefaultConfig() Config {
	return Config{
		MaxVisibleItems: 100,
		FadeDuration:    10 * time.Second,
		ShowSuspicious:  true,
		Radius:          50,
		HistorySize:     1000,
	}
}

func (c Config) Validate() error {
	if c.MaxVisibleItems < 0 {
		return fmt.Errorf("%w: max visible items must not be negative, got %d", ErrInvalidConfig, c.MaxVisibleItems)
	}
	if err := validateFade(c.FadeDuration); err != nil {
		return err
	}
	if c.GraceWindow < 0 || c.GraceWindow > MaxGraceWindow {
		return fmt.Errorf("%w: grace window %v outside [0, %v]", ErrInvalidConfig, c.GraceWindow, MaxGraceWindow)
	}
	if c.Radius <= 0 {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidConfig, c.Radius)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size must not be negative, got %d", ErrInvalidConfig, c.HistorySize)
	}
	return nil
}

func validateFade(d time.Duration) error {
	if d < MinFadeDuration || d > MaxFadeDuration {
		return fmt.Errorf("%w: fade duration %v outside [%v, %v]", ErrInvalidConfig, d, MinFadeDuration, MaxFadeDuration)
	}
	return nil
}
