package models

// AlertRule routes matching incidents to a notification channel.
type AlertRule struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name" validate:"required,max=128"`
	Category      string `json:"category" yaml:"category" validate:"required,max=64"`
	Threshold     int    `json:"threshold" yaml:"threshold" validate:"gte=0"`
	WindowMinutes int    `json:"window_minutes" yaml:"window_minutes" validate:"gte=0,lte=10080"`
	Severity      string `json:"severity" yaml:"severity" validate:"omitempty,max=32"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
}
