package alerts

import (
	"strconv"
	"strings"
)

// Stats is the per-metric view the rule engine evaluates: the deriver's
// quality counters plus feed freshness.
type Stats struct {
	Metric                string
	SourceID              string
	Rows                  int
	Entities              int
	CorrectionsSuppressed int
	DuplicatesDropped     int
	StalenessHours        float64
}

// evalCondition evaluates a rule condition string against the stats.
//
// Supported expressions (field operator value):
//
//	corrections_suppressed > 25
//	duplicates_dropped > 10
//	row_count < 100
//	entity_count < 50
//	staleness_hours > 48
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, st Stats) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := numericField(field, st)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the stats.
func numericField(field string, st Stats) (float64, bool) {
	switch field {
	case "corrections_suppressed":
		return float64(st.CorrectionsSuppressed), true
	case "duplicates_dropped":
		return float64(st.DuplicatesDropped), true
	case "row_count":
		return float64(st.Rows), true
	case "entity_count":
		return float64(st.Entities), true
	case "staleness_hours":
		return st.StalenessHours, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
