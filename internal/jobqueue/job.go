package jobqueue

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// MaxMessageLength bounds descriptions and error messages in stats output
const MaxMessageLength = 200

// Job represents a unit of work in the job queue
type Job struct {
	ID          string      // Unique ID for this job
	Key         string      // Optional deduplication key, e.g. a collection id
	Action      Action      // The action to execute
	Attempts    int         // Number of attempts made so far
	MaxAttempts int         // Maximum number of attempts allowed
	CreatedAt   time.Time   // When the job was created
	NextRetryAt time.Time   // When to next attempt the job
	Status      JobStatus   // Current status of the job
	LastError   error       // Last error encountered
	Config      RetryConfig // Retry configuration for this job
}

// JobSnapshot is a copy of a job's state safe to read without the queue lock
type JobSnapshot struct {
	ID        string
	Key       string
	Status    JobStatus
	Attempts  int
	CreatedAt time.Time
	LastError string
}

func (j *Job) snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:        j.ID,
		Key:       j.Key,
		Status:    j.Status,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
	}
	if j.LastError != nil {
		s.LastError = j.LastError.Error()
	}
	return s
}

// JobStats tracks statistics about job processing
type JobStats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	StaleJobs      int
	ArchivedJobs   int
	RejectedJobs   int // jobs refused because the queue was full
	RetryAttempts  int
	ActionStats    map[string]ActionStats // Key is the action description
}

// JobStatsSnapshot provides a point-in-time snapshot of job statistics
type JobStatsSnapshot struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	StaleJobs      int
	ArchivedJobs   int
	RejectedJobs   int
	RetryAttempts  int

	PendingJobs      int
	RunningJobs      int
	MaxQueueSize     int
	QueueUtilization float64

	ActionStats map[string]ActionStats
}

// ActionStats tracks statistics for one kind of action
type ActionStats struct {
	Description string

	Attempted  int
	Successful int
	Failed     int
	Retried    int
	Rejected   int

	TotalDuration      time.Duration
	AverageDuration    time.Duration
	MinDuration        time.Duration
	MaxDuration        time.Duration
	LastExecutionTime  time.Time
	LastSuccessfulTime time.Time
	LastFailedTime     time.Time
	LastErrorMessage   string
}

func (s *ActionStats) recordDuration(d time.Duration, runs int) {
	s.TotalDuration += d
	if s.MinDuration == 0 || d < s.MinDuration {
		s.MinDuration = d
	}
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
	if runs > 0 {
		s.AverageDuration = s.TotalDuration / time.Duration(runs)
	}
}

// ToJSON converts the JobStatsSnapshot to a JSON string with pretty formatting
func (s *JobStatsSnapshot) ToJSON() (string, error) {
	return s.toJSON(true)
}

// ToJSONCompact converts the JobStatsSnapshot to a compact JSON string
func (s *JobStatsSnapshot) ToJSONCompact() (string, error) {
	return s.toJSON(false)
}

func (s *JobStatsSnapshot) toJSON(prettyPrint bool) (string, error) {
	statsMap := map[string]any{
		"queue": map[string]any{
			"total":         s.TotalJobs,
			"successful":    s.SuccessfulJobs,
			"failed":        s.FailedJobs,
			"stale":         s.StaleJobs,
			"archived":      s.ArchivedJobs,
			"rejected":      s.RejectedJobs,
			"retryAttempts": s.RetryAttempts,
			"pending":       s.PendingJobs,
			"running":       s.RunningJobs,
			"maxSize":       s.MaxQueueSize,
			"utilization":   s.QueueUtilization,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	actionsMap := make(map[string]any, len(s.ActionStats))
	for name := range s.ActionStats {
		stats := s.ActionStats[name]
		actionStats := map[string]any{
			"description": truncate(stats.Description),
			"metrics": map[string]any{
				"attempted":  stats.Attempted,
				"successful": stats.Successful,
				"failed":     stats.Failed,
				"retried":    stats.Retried,
				"rejected":   stats.Rejected,
			},
			"performance": map[string]any{
				"totalDuration":   stats.TotalDuration.String(),
				"averageDuration": stats.AverageDuration.String(),
				"minDuration":     stats.MinDuration.String(),
				"maxDuration":     stats.MaxDuration.String(),
			},
		}

		timestamps := make(map[string]string)
		if !stats.LastExecutionTime.IsZero() {
			timestamps["lastExecution"] = stats.LastExecutionTime.Format(time.RFC3339)
		}
		if !stats.LastSuccessfulTime.IsZero() {
			timestamps["lastSuccess"] = stats.LastSuccessfulTime.Format(time.RFC3339)
		}
		if !stats.LastFailedTime.IsZero() {
			timestamps["lastFailure"] = stats.LastFailedTime.Format(time.RFC3339)
		}
		if len(timestamps) > 0 {
			actionStats["timestamps"] = timestamps
		}
		if stats.LastErrorMessage != "" {
			actionStats["lastError"] = stats.LastErrorMessage
		}
		actionsMap[name] = actionStats
	}
	statsMap["actions"] = actionsMap

	var (
		data []byte
		err  error
	)
	if prettyPrint {
		data, err = json.MarshalIndent(statsMap, "", "  ")
	} else {
		data, err = json.Marshal(statsMap)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxMessageLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxMessageLength]) + "... [truncated]"
}
