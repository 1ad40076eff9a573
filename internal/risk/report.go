package risk

import (
	"sort"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region top-risks

// TopRisks keeps flags at medium or above, ordered by severity descending and
// then by recency descending. The input is not modified.
func TopRisks(flags []Flag) []Flag {
	out := make([]Flag, 0, len(flags))
	for _, f := range flags {
		if f.Level.Severity() >= LevelMedium.Severity() {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Level.Severity(), out[j].Level.Severity()
		if si != sj {
			return si > sj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MaxLevel returns the highest level among flags, info when empty.
func MaxLevel(flags []Flag) Level {
	best := LevelInfo
	for _, f := range flags {
		if f.Level.Severity() > best.Severity() {
			best = f.Level
		}
	}
	return best
}

// SemaforoFor summarizes flags: green up to low, yellow at medium, red at
// high or critical.
func SemaforoFor(flags []Flag) Semaforo {
	switch sev := MaxLevel(flags).Severity(); {
	case sev >= LevelHigh.Severity():
		return SemaforoRed
	case sev == LevelMedium.Severity():
		return SemaforoYellow
	default:
		return SemaforoGreen
	}
}

// #endregion top-risks

// #region report

// DimensionSummary is the latest assessment of one dimension.
type DimensionSummary struct {
	Score      int      `json:"score"`
	Level      Level    `json:"level"`
	Indicators []string `json:"indicators"`
}

// Report is the per-session risk view.
type Report struct {
	SessionID  string                         `json:"session_id"`
	Dimensions map[Dimension]DimensionSummary `json:"dimensions"`
	TopRisks   []Flag                         `json:"top_risks"`
	Semaforo   Semaforo                       `json:"semaforo"`
	Assessed   int                            `json:"assessed_submissions"`
}

// BuildReport derives a report from a session's flag history, oldest first.
// Later flags supersede earlier ones per dimension; top risks span the
// whole history.
func BuildReport(sessionID string, flags []Flag) Report {
	r := Report{
		SessionID:  sessionID,
		Dimensions: make(map[Dimension]DimensionSummary, len(AllDimensions)),
	}
	for _, dim := range AllDimensions {
		r.Dimensions[dim] = DimensionSummary{Level: LevelInfo, Indicators: []string{}}
	}

	latest := make(map[Dimension]Flag, len(AllDimensions))
	submissions := make(map[string]bool)
	for _, f := range flags {
		latest[f.Dimension] = f
		submissions[f.SubmissionID] = true
	}
	current := make([]Flag, 0, len(latest))
	for dim, f := range latest {
		r.Dimensions[dim] = DimensionSummary{Score: f.Score, Level: f.Level, Indicators: f.Indicators}
		current = append(current, f)
	}

	r.TopRisks = TopRisks(flags)
	r.Semaforo = SemaforoFor(current)
	r.Assessed = len(submissions)
	return r
}

// #endregion report

// #region records

// ToRecords converts flags to their persisted form.
func ToRecords(sessionID string, flags []Flag) []state.FlagRecord {
	out := make([]state.FlagRecord, 0, len(flags))
	for _, f := range flags {
		out = append(out, state.FlagRecord{
			SubmissionID: f.SubmissionID,
			SessionID:    sessionID,
			Dimension:    string(f.Dimension),
			Score:        f.Score,
			Level:        string(f.Level),
			Indicators:   f.Indicators,
			Mitigation:   f.Mitigation,
			CreatedAt:    f.CreatedAt,
		})
	}
	return out
}

// FromRecords converts persisted flags back to Flag values.
func FromRecords(records []state.FlagRecord) []Flag {
	out := make([]Flag, 0, len(records))
	for _, rec := range records {
		out = append(out, Flag{
			SubmissionID: rec.SubmissionID,
			Dimension:    Dimension(rec.Dimension),
			Score:        rec.Score,
			Level:        Level(rec.Level),
			Indicators:   rec.Indicators,
			Mitigation:   rec.Mitigation,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return out
}

// #endregion records
