package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Key segments under a session prefix
const (
	segmentFinished = "finished"
	segmentPaged    = "paged/job/"
	segmentPage     = "page/number/"
)

// SessionPrefix is the root of all derived objects for a session
func SessionPrefix(user, session string) string {
	return fmt.Sprintf("%s/session/%s/", user, session)
}

// StagedPrefix is where job definitions wait before the session starts
func StagedPrefix(user, session string) string {
	return fmt.Sprintf("%s/session/create/%s/", user, session)
}

// StagedKey names one staged batch of job definitions
func StagedKey(user, session string, millis int64) string {
	return fmt.Sprintf("%s%d.json", StagedPrefix(user, session), millis)
}

// FinishedKey names the snapshot of a terminal job
func FinishedKey(user, session, timestamp, outcome, jobID string) string {
	return fmt.Sprintf("%s%s/%s/%s/%s.json", SessionPrefix(user, session), segmentFinished, timestamp, outcome, jobID)
}

// PagedKey names the marker recording that a job was paged
func PagedKey(user, session, jobID string) string {
	return SessionPrefix(user, session) + segmentPaged + jobID
}

// PageKey names result page n
func PageKey(user, session string, n int) string {
	return fmt.Sprintf("%s%s%d.json", SessionPrefix(user, session), segmentPage, n)
}

// KeyKind classifies a key found under a session prefix
type KeyKind int

const (
	KindOther KeyKind = iota
	KindFinished
	KindPaged
	KindPage
)

// ParsedKey is a session key split into its meaningful parts
type ParsedKey struct {
	Kind      KeyKind
	Key       string
	JobID     string
	Outcome   string
	Timestamp string
	Page      int
}

// ParseSessionKey classifies key relative to the session prefix
func ParseSessionKey(prefix, key string) ParsedKey {
	parsed := ParsedKey{Kind: KindOther, Key: key}
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return parsed
	}

	switch {
	case strings.HasPrefix(rest, segmentPage):
		name, ok := strings.CutSuffix(strings.TrimPrefix(rest, segmentPage), ".json")
		if !ok {
			return parsed
		}
		n, err := strconv.Atoi(name)
		if err != nil || n < 1 {
			return parsed
		}
		parsed.Kind = KindPage
		parsed.Page = n

	case strings.HasPrefix(rest, segmentPaged):
		jobID := strings.TrimPrefix(rest, segmentPaged)
		if jobID == "" || strings.Contains(jobID, "/") {
			return parsed
		}
		parsed.Kind = KindPaged
		parsed.JobID = jobID

	case strings.HasPrefix(rest, segmentFinished+"/"):
		// finished/{timestamp}/{outcome}/{jobId}.json
		parts := strings.Split(strings.TrimPrefix(rest, segmentFinished+"/"), "/")
		if len(parts) != 3 {
			return parsed
		}
		jobID, ok := strings.CutSuffix(parts[2], ".json")
		if !ok || jobID == "" {
			return parsed
		}
		parsed.Kind = KindFinished
		parsed.Timestamp = parts[0]
		parsed.Outcome = parts[1]
		parsed.JobID = jobID
	}
	return parsed
}
