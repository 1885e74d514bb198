package feature

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// OverrideType represents the type of override
type OverrideType string

const (
	OverrideTypeIdentity OverrideType = "identity"
	OverrideTypeGroup    OverrideType = "group"
)

// Flag is a boolean switch over part of the tracking configuration
type Flag struct {
	Key         string           `json:"key" mapstructure:"key"`
	Description string           `json:"description" mapstructure:"description"`
	Enabled     bool             `json:"enabled" mapstructure:"enabled"`
	Value       bool             `json:"value" mapstructure:"value"`
	Rollout     *RolloutStrategy `json:"rollout,omitempty" mapstructure:"rollout"`
	Schedule    *Schedule        `json:"schedule,omitempty" mapstructure:"schedule"`
	Overrides   []Override       `json:"overrides,omitempty" mapstructure:"overrides"`
}

// RolloutStrategy limits a flag to a percentage of identities
type RolloutStrategy struct {
	Percentage int  `json:"percentage" mapstructure:"percentage"`
	Sticky     bool `json:"sticky" mapstructure:"sticky"`
}

// Schedule represents a time window in which a flag applies
type Schedule struct {
	StartTime  time.Time `json:"start_time" mapstructure:"start_time"`
	EndTime    time.Time `json:"end_time" mapstructure:"end_time"`
	DaysOfWeek []int     `json:"days_of_week,omitempty" mapstructure:"days_of_week"` // 0=Sunday, 6=Saturday
}

// Override pins the flag value for one identity or group
type Override struct {
	Type   OverrideType `json:"type" mapstructure:"type"`
	Target string       `json:"target" mapstructure:"target"`
	Value  bool         `json:"value" mapstructure:"value"`
}

// EvaluationContext represents the context for evaluating a flag
type EvaluationContext struct {
	Identity  string
	GroupIDs  []string
	Timestamp time.Time
}

// EvaluationResult represents the result of evaluating a flag
type EvaluationResult struct {
	FlagKey string
	Value   bool
	Reason  string
}

// Hash generates a consistent hash for a given key and salt
func Hash(key, salt string) uint32 {
	h := sha256.New()
	h.Write([]byte(key + salt))
	hashBytes := h.Sum(nil)

	// Convert first 4 bytes to uint32
	return uint32(hashBytes[0])<<24 | uint32(hashBytes[1])<<16 |
		uint32(hashBytes[2])<<8 | uint32(hashBytes[3])
}

// IsInBucket determines if an identity is in a percentage bucket
func IsInBucket(identity, flagKey string, percentage int) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= 100 {
		return true
	}

	bucket := Hash(identity, flagKey) % 100
	return int(bucket) < percentage
}

// ValidateFlag validates a flag configuration
func ValidateFlag(flag *Flag) error {
	if flag == nil || flag.Key == "" {
		return fmt.Errorf("flag key is required")
	}

	if flag.Rollout != nil {
		if flag.Rollout.Percentage < 0 || flag.Rollout.Percentage > 100 {
			return fmt.Errorf("rollout percentage must be between 0 and 100")
		}
	}

	if flag.Schedule != nil && !flag.Schedule.EndTime.IsZero() && flag.Schedule.EndTime.Before(flag.Schedule.StartTime) {
		return fmt.Errorf("schedule end time is before start time")
	}

	return nil
}
