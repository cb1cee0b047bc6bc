// Package severity defines the severity scale used for advisory findings and
// metadata heuristics, with normalization helpers for the formats advisory
// sources emit (RUSTSEC levels, GHSA strings, raw CVSS scores).
package severity

import "strings"

// Level represents a severity level for a finding.
type Level string

const (
	// Critical - actively exploited or trivially exploitable; act immediately.
	Critical Level = "critical"

	// High - serious vulnerability that should be addressed urgently.
	High Level = "high"

	// Medium - moderate risk, address in the normal development cycle.
	Medium Level = "medium"

	// Low - minor issue, address when convenient.
	Low Level = "low"

	// Info - informational, no direct security impact.
	Info Level = "info"

	// Unknown - the advisory carried no usable severity.
	Unknown Level = "unknown"
)

// AllLevels returns all levels ordered highest first.
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low, Info, Unknown}
}

// String returns the string representation of the level.
func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric rank of the level. Higher means more severe.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

// IsHigherThan reports whether this level outranks the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// IsAtLeast reports whether this level is at least as severe as the other.
func (l Level) IsAtLeast(other Level) bool {
	return l.Priority() >= other.Priority()
}

// Compare returns -1, 0 or +1 ordering a against b by severity.
func Compare(a, b Level) int {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// FromString normalizes severity strings from the advisory sources we load:
// RUSTSEC/OSV database_specific severities, GHSA severity strings, and the
// looser spellings seen in hand-maintained databases.
func FromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT":
		return Critical
	case "HIGH", "SEVERE", "ERROR":
		return High
	case "MEDIUM", "MODERATE", "MED", "WARNING":
		return Medium
	case "LOW", "MINOR":
		return Low
	case "INFO", "INFORMATIONAL", "NOTE", "NONE":
		return Info
	default:
		return Unknown
	}
}

// FromCVSS converts a CVSS score (0.0-10.0) to a level using the CVSS v3
// rating bands.
func FromCVSS(score float64) Level {
	switch {
	case score >= 9.0:
		return Critical
	case score >= 7.0:
		return High
	case score >= 4.0:
		return Medium
	case score > 0:
		return Low
	default:
		return Info
	}
}

// Count tallies findings per severity level.
type Count struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// Add increments the tally for the given level.
func (c *Count) Add(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	case Info:
		c.Info++
	default:
		c.Unknown++
	}
}

// Highest returns the most severe level with a non-zero tally.
func (c *Count) Highest() Level {
	switch {
	case c.Critical > 0:
		return Critical
	case c.High > 0:
		return High
	case c.Medium > 0:
		return Medium
	case c.Low > 0:
		return Low
	case c.Info > 0:
		return Info
	default:
		return Unknown
	}
}
