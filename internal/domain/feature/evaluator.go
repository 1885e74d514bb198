package feature

import (
	"sync"
	"time"
)

// Evaluator evaluates flags held in memory
type Evaluator struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

// NewEvaluator creates a new flag evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		flags: make(map[string]*Flag),
	}
}

// AddFlag adds a flag to the evaluator
func (e *Evaluator) AddFlag(flag *Flag) error {
	if err := ValidateFlag(flag); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags[flag.Key] = flag
	return nil
}

// RemoveFlag removes a flag from the evaluator
func (e *Evaluator) RemoveFlag(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.flags, key)
}

// GetFlag retrieves a flag by key
func (e *Evaluator) GetFlag(key string) (*Flag, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	flag, exists := e.flags[key]
	return flag, exists
}

// IsEnabled evaluates the flag stored under key. def is returned when no
// such flag exists.
func (e *Evaluator) IsEnabled(key string, evalContext EvaluationContext, def bool) bool {
	flag, ok := e.GetFlag(key)
	if !ok {
		return def
	}
	return e.Evaluate(flag, evalContext).Value
}

// Evaluate evaluates a flag for a given context
func (e *Evaluator) Evaluate(flag *Flag, evalContext EvaluationContext) *EvaluationResult {
	result := &EvaluationResult{
		FlagKey: flag.Key,
		Value:   false,
		Reason:  "disabled",
	}

	// A disabled flag always evaluates to false
	if !flag.Enabled {
		return result
	}

	if evalContext.Timestamp.IsZero() {
		evalContext.Timestamp = time.Now()
	}

	if flag.Schedule != nil && !isInSchedule(flag.Schedule, evalContext.Timestamp) {
		result.Reason = "outside_schedule"
		return result
	}

	if override := checkOverrides(flag.Overrides, evalContext); override != nil {
		result.Value = override.Value
		result.Reason = "override"
		return result
	}

	if flag.Rollout != nil {
		result.Reason = "rollout"
		result.Value = flag.Value && isInRollout(flag.Rollout, evalContext, flag.Key)
		return result
	}

	result.Value = flag.Value
	result.Reason = "default"
	return result
}

// isInSchedule checks if the time is within schedule
func isInSchedule(schedule *Schedule, currentTime time.Time) bool {
	if !schedule.StartTime.IsZero() && currentTime.Before(schedule.StartTime) {
		return false
	}
	if !schedule.EndTime.IsZero() && currentTime.After(schedule.EndTime) {
		return false
	}

	if len(schedule.DaysOfWeek) > 0 {
		currentDay := int(currentTime.Weekday())
		for _, day := range schedule.DaysOfWeek {
			if day == currentDay {
				return true
			}
		}
		return false
	}

	return true
}

// checkOverrides checks for identity or group overrides
func checkOverrides(overrides []Override, evalContext EvaluationContext) *Override {
	for i := range overrides {
		override := &overrides[i]
		switch override.Type {
		case OverrideTypeIdentity:
			if evalContext.Identity != "" && override.Target == evalContext.Identity {
				return override
			}
		case OverrideTypeGroup:
			for _, groupID := range evalContext.GroupIDs {
				if override.Target == groupID {
					return override
				}
			}
		}
	}
	return nil
}

// isInRollout checks if the identity is in rollout
func isInRollout(strategy *RolloutStrategy, evalContext EvaluationContext, flagKey string) bool {
	if evalContext.Identity == "" {
		return strategy.Percentage >= 100
	}
	if strategy.Sticky {
		return IsInBucket(evalContext.Identity, flagKey, strategy.Percentage)
	}
	// For non-sticky, use timestamp-based randomization
	return IsInBucket(evalContext.Identity+evalContext.Timestamp.String(), flagKey, strategy.Percentage)
}
