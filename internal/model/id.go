package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task ids double as the persistence key and as the seed for deterministic
// template ordering, so the format is load-bearing: millisecond timestamp
// for age-based sweeps, random suffix to make collisions negligible.

var taskIDRegex = regexp.MustCompile(`^task_[0-9]{13}_[0-9a-f]{8}$`)

func NewTaskID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("task_%013d_%s", time.Now().UnixMilli(), suffix)
}

func ValidateTaskID(id string) bool {
	return taskIDRegex.MatchString(id)
}

// ParseTaskIDTime recovers the creation time encoded in a task id.
func ParseTaskIDTime(id string) (time.Time, error) {
	if !ValidateTaskID(id) {
		return time.Time{}, fmt.Errorf("invalid task id format: %s", id)
	}
	ms, err := strconv.ParseInt(id[5:18], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from task id %s: %w", id, err)
	}
	return time.UnixMilli(ms), nil
}
