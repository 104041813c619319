package domain

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlatform_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		want     bool
	}{
		{name: "linkedin", platform: PlatformLinkedIn, want: true},
		{name: "youtube", platform: PlatformYouTube, want: true},
		{name: "instagram", platform: PlatformInstagram, want: true},
		{name: "tiktok", platform: PlatformTikTok, want: true},
		{name: "unknown platform", platform: Platform("MYSPACE"), want: false},
		{name: "lowercase is not valid", platform: Platform("linkedin"), want: false},
		{name: "empty", platform: Platform(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.platform.IsValid())
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "pending to claimed", from: JobStatusPending, to: JobStatusClaimed, want: true},
		{name: "claimed to triggered", from: JobStatusClaimed, to: JobStatusTriggered, want: true},
		{name: "claimed released back to pending", from: JobStatusClaimed, to: JobStatusPending, want: true},
		{name: "triggered to succeeded", from: JobStatusTriggered, to: JobStatusSucceeded, want: true},
		{name: "triggered to failed", from: JobStatusTriggered, to: JobStatusFailed, want: true},
		{name: "failed re-armed to pending", from: JobStatusFailed, to: JobStatusPending, want: true},
		{name: "pending cannot skip to triggered", from: JobStatusPending, to: JobStatusTriggered, want: false},
		{name: "pending cannot skip to succeeded", from: JobStatusPending, to: JobStatusSucceeded, want: false},
		{name: "succeeded is final", from: JobStatusSucceeded, to: JobStatusPending, want: false},
		{name: "failed cannot go to succeeded", from: JobStatusFailed, to: JobStatusSucceeded, want: false},
		{name: "stale triggered re-claimed", from: JobStatusTriggered, to: JobStatusClaimed, want: true},
		{name: "triggered released back to pending", from: JobStatusTriggered, to: JobStatusPending, want: true},
		{name: "unknown status", from: "ARCHIVED", to: JobStatusPending, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(JobStatusSucceeded))
	assert.False(t, IsTerminalStatus(JobStatusFailed))
	assert.False(t, IsTerminalStatus(JobStatusPending))
	assert.False(t, IsTerminalStatus(JobStatusClaimed))
	assert.False(t, IsTerminalStatus(JobStatusTriggered))
}

func TestScheduledJob_ClaimExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	ttl := time.Minute

	tests := []struct {
		name string
		job  ScheduledJob
		want bool
	}{
		{
			name: "claim older than ttl",
			job: ScheduledJob{
				Status:    JobStatusClaimed,
				ClaimedAt: sql.NullTime{Time: now.Add(-2 * time.Minute), Valid: true},
			},
			want: true,
		},
		{
			name: "claim within ttl",
			job: ScheduledJob{
				Status:    JobStatusClaimed,
				ClaimedAt: sql.NullTime{Time: now.Add(-30 * time.Second), Valid: true},
			},
			want: false,
		},
		{
			name: "claim exactly at ttl boundary",
			job: ScheduledJob{
				Status:    JobStatusClaimed,
				ClaimedAt: sql.NullTime{Time: now.Add(-ttl), Valid: true},
			},
			want: false,
		},
		{
			name: "triggered with stale claim",
			job: ScheduledJob{
				Status:    JobStatusTriggered,
				ClaimedAt: sql.NullTime{Time: now.Add(-2 * time.Minute), Valid: true},
			},
			want: true,
		},
		{
			name: "not claimed",
			job: ScheduledJob{
				Status:    JobStatusPending,
				ClaimedAt: sql.NullTime{Time: now.Add(-2 * time.Minute), Valid: true},
			},
			want: false,
		},
		{
			name: "claimed without claim timestamp",
			job: ScheduledJob{
				Status: JobStatusClaimed,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.ClaimExpired(now, ttl))
		})
	}
}
