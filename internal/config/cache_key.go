package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionEventsChannel returns the Redis PubSub channel carrying row changes of one session
func (r *CacheKeyStruct) SessionEventsChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// ScheduleMonitorChannel returns the Redis PubSub channel for a schedule's monitor
func (r *CacheKeyStruct) ScheduleMonitorChannel(scheduleID uuid.UUID) string {
	return fmt.Sprintf("schedule:%s:monitor", scheduleID)
}

// ActivityRateKey returns the rate limit counter of a user's activity reports
func (r *CacheKeyStruct) ActivityRateKey(userID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:activity:%s", userID)
}

var CacheKey = NewCacheKeyStruct()
