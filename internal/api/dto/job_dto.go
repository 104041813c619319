package dto

import "time"

// ScheduleRequest is the body of POST /scheduler/schedule
type ScheduleRequest struct {
	ContentItemID      string    `json:"content_item_id" binding:"required"`
	ConnectedAccountID string    `json:"connected_account_id" binding:"required"`
	Platform           string    `json:"platform" binding:"required"`
	ScheduledAt        time.Time `json:"scheduled_at" binding:"required"`
}

// ListJobsRequest are the query parameters of GET /scheduler/jobs
type ListJobsRequest struct {
	Platform string `form:"platform"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is the paginated job listing
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the external representation of a scheduled job
type JobDTO struct {
	JobID              string `json:"job_id"`
	UserID             string `json:"user_id"`
	ContentItemID      string `json:"content_item_id"`
	ConnectedAccountID string `json:"connected_account_id"`
	Platform           string `json:"platform"`
	ScheduledAt        string `json:"scheduled_at"`
	Status             string `json:"status"`
	RetryCount         int    `json:"retry_count"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}
