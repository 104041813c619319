package domain

import (
	"database/sql"
	"time"
)

// Platform identifies the external platform a job publishes to
type Platform string

const (
	PlatformLinkedIn  Platform = "LINKEDIN"
	PlatformYouTube   Platform = "YOUTUBE"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTikTok    Platform = "TIKTOK"
)

// KnownPlatforms lists every platform the executor can route to
var KnownPlatforms = []Platform{
	PlatformLinkedIn,
	PlatformYouTube,
	PlatformInstagram,
	PlatformTikTok,
}

// IsValid reports whether p is one of the known platforms
func (p Platform) IsValid() bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusClaimed   = "CLAIMED"
	JobStatusTriggered = "TRIGGERED"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// legalTransitions maps each status to the statuses it may move to.
// FAILED to PENDING is the retry re-arm; its retry ceiling is enforced
// by the store's conditional update, not here. TRIGGERED back to
// CLAIMED or PENDING happens only when the claim expired or hand-off
// failed, so a dead scanner never strands the job.
var legalTransitions = map[string][]string{
	JobStatusPending:   {JobStatusClaimed},
	JobStatusClaimed:   {JobStatusTriggered, JobStatusPending},
	JobStatusTriggered: {JobStatusSucceeded, JobStatusFailed, JobStatusClaimed, JobStatusPending},
	JobStatusFailed:    {JobStatusPending},
	JobStatusSucceeded: {},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further automatic transition applies.
// FAILED is terminal only once the retry ceiling is reached, which the
// caller must check against retry_count.
func IsTerminalStatus(status string) bool {
	return status == JobStatusSucceeded
}

// ScheduledJob is the unit of work: a single future publication of one
// content item to one connected platform account. The store owns it
// exclusively; every mutation goes through a conditional update.
type ScheduledJob struct {
	JobID              string         `db:"job_id"`
	UserID             string         `db:"user_id"`
	ContentItemID      string         `db:"content_item_id"`
	ConnectedAccountID string         `db:"connected_account_id"`
	Platform           Platform       `db:"platform"`
	ScheduledAt        time.Time      `db:"scheduled_at"`
	Status             string         `db:"status"`
	RetryCount         int            `db:"retry_count"`
	ClaimedBy          sql.NullString `db:"claimed_by"`
	ClaimedAt          sql.NullTime   `db:"claimed_at"`
	LastErrorCode      sql.NullString `db:"last_error_code"`
	LastErrorMessage   sql.NullString `db:"last_error_message"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// ClaimExpired reports whether the job's claim is older than ttl at the
// given instant. Meaningful for CLAIMED jobs and for TRIGGERED jobs
// whose holder may have died before the broker hand-off.
func (j *ScheduledJob) ClaimExpired(now time.Time, ttl time.Duration) bool {
	if j.Status != JobStatusClaimed && j.Status != JobStatusTriggered {
		return false
	}
	if !j.ClaimedAt.Valid {
		return false
	}
	return j.ClaimedAt.Time.Add(ttl).Before(now)
}

// PublishAttempt is the executor's idempotency record for one delivery
// attempt of one job. The (job_id, platform, attempt) key makes broker
// redeliveries of the same attempt collide while a re-armed retry gets a
// fresh record.
type PublishAttempt struct {
	JobID          string         `db:"job_id"`
	Platform       Platform       `db:"platform"`
	Attempt        int            `db:"attempt"`
	Outcome        sql.NullString `db:"outcome"`
	PlatformPostID sql.NullString `db:"platform_post_id"`
	Permalink      sql.NullString `db:"permalink"`
	ErrorCode      sql.NullString `db:"error_code"`
	ErrorTransient sql.NullBool   `db:"error_transient"`
	AttemptedAt    time.Time      `db:"attempted_at"`
}

// Attempt outcome constants
const (
	AttemptOutcomeSucceeded = "SUCCEEDED"
	AttemptOutcomeFailed    = "FAILED"
)
