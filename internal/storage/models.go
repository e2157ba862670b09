package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Cycle statuses.
const (
	CycleRunning   = "running"
	CycleCompleted = "completed"
	CycleFailed    = "failed"
	CycleDeclined  = "declined" // confirm mode, operator said no
)

// Send statuses.
const (
	SendSent   = "sent"
	SendFailed = "failed"
)

type Cycle struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Mode       string
	Channel    string
	Status     string
	Loaded     int
	Eligible   int
	Excluded   int
	Sent       int
	Failed     int
	Skipped    int
	Error      string
}

// Send is one journaled provider call. Email is stored normalized.
type Send struct {
	ID          string
	CycleID     string
	Email       string
	Channel     string
	StepIndex   int
	ChannelStep int
	CampaignID  string
	Template    string
	SentAt      time.Time
	Status      string
	Error       string
	Applied     bool
}
