package pipeline

import "time"

// Defaults for a run. Configuration overrides them.
const (
	// DefaultRunTimeout bounds a whole run; checked between stages.
	DefaultRunTimeout = 10 * time.Minute

	// DefaultCoverageThreshold is the share of transactions that must be
	// categorized before the categorization stage warns.
	DefaultCoverageThreshold = 0.95

	// DefaultSimilarityThreshold is the minimum Levenshtein ratio for a fuzzy
	// category match.
	DefaultSimilarityThreshold = 0.8

	// weekDays is the span of one analysed week in calendar days.
	weekDays = 7

	// dateLayout formats week dates in reports, file names and keys.
	dateLayout = "2006-01-02"
)

// Operation classes sharing a circuit breaker.
const (
	classBank     = "bank"
	classStore    = "bigquery"
	classGenerate = "gemini"
	classMail     = "smtp"
	classArchive  = "gcs"
)
