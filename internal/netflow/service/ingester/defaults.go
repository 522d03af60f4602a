package ingester

import "time"

const (
	sleepDuration = 5 * time.Second

	commitInitialInterval = 100 * time.Millisecond
	commitMaxInterval     = 30 * time.Second
	commitMaxElapsed      = 10 * time.Minute

	notifyTimeout = 5 * time.Second
)
