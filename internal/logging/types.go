package logging

import "time"

// #region audit-entry
// AuditEntry is a single row in the governance_audit table. Only non-allow
// decisions are audited; the redacted text never contains the original PII.
type AuditEntry struct {
	SubmissionID string
	SessionID    string
	Decision     string // "block" | "sanitize"
	Indicators   []string
	Rationale    string
	RedactedText string
	CreatedAt    time.Time
}

// #endregion audit-entry
