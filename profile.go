package watchtower

import (
	"strconv"
	"time"
)

// RatioSentinel is stored as the insert-to-delete ratio when a
// contributor has never deleted a line, standing in for +Inf.
const RatioSentinel = 999

// ContributorProfile is the statistical baseline for one author within
// one watched package, keyed by (watched package, author email).
type ContributorProfile struct {
	ID          string `json:"id,omitempty"`
	AuthorEmail string `json:"author_email"`
	AuthorName  string `json:"author_name,omitempty"`
	CommitCount int    `json:"commit_count"`

	AvgLinesAdded       float64 `json:"avg_lines_added"`
	StddevLinesAdded    float64 `json:"stddev_lines_added"`
	AvgLinesDeleted     float64 `json:"avg_lines_deleted"`
	StddevLinesDeleted  float64 `json:"stddev_lines_deleted"`
	AvgFilesChanged     float64 `json:"avg_files_changed"`
	StddevFilesChanged  float64 `json:"stddev_files_changed"`
	AvgMessageLength    float64 `json:"avg_message_length"`
	StddevMessageLength float64 `json:"stddev_message_length"`
	InsertToDeleteRatio float64 `json:"insert_to_delete_ratio"`

	// HourHistogram counts commits per hour of day, keyed "0:00"
	// through "23:00".
	HourHistogram map[string]int `json:"commit_time_histogram"`
	// DayHistogram counts commits per weekday, keyed "Sunday" through
	// "Saturday".
	DayHistogram map[string]int `json:"typical_days_active"`
	// Heatmap is indexed [weekday][hour], Sunday first.
	Heatmap [7][24]int `json:"commit_time_heatmap"`
	// FilesWorkedOn is a multiset of every path the author touched.
	FilesWorkedOn map[string]int `json:"files_worked_on"`

	FirstCommitAt time.Time `json:"first_commit_at"`
	LastCommitAt  time.Time `json:"last_commit_at"`
}

// HourKey renders an hour of day as a histogram key, "0:00" through
// "23:00".
func HourKey(hour int) string {
	return strconv.Itoa(hour) + ":00"
}

// DayKey renders a weekday as a histogram key, "Sunday" through
// "Saturday".
func DayKey(day time.Weekday) string {
	return day.String()
}

// Anomaly is a scored deviation of one commit from its author's
// baseline. Only commits with a positive score are recorded.
type Anomaly struct {
	CommitSHA   string `json:"commit_sha"`
	AuthorEmail string `json:"author_email"`
	// ContributorID is filled by the store when the profile row is
	// known.
	ContributorID string          `json:"contributor_id,omitempty"`
	Score         int             `json:"anomaly_score"`
	Factors       []AnomalyFactor `json:"factors"`
}

// AnomalyFactor is one contribution to an anomaly score.
type AnomalyFactor struct {
	Factor string `json:"factor"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}
