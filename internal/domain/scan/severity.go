package scan

import "strings"

// Severity is the diabetic retinopathy grade derived from a diagnosis label.
type Severity string

const (
	SeverityUnknown       Severity = "unknown"
	SeverityHealthy       Severity = "healthy"
	SeverityMild          Severity = "mild"
	SeverityModerate      Severity = "moderate"
	SeveritySevere        Severity = "severe"
	SeverityProliferative Severity = "proliferative"
)

// UnrankedQueue is the queue rank of scans without a recognised grade.
const UnrankedQueue = 10

type marker struct {
	severity Severity
	words    []string
}

// Checked most severe first.
var severityMarkers = []marker{
	{SeverityProliferative, []string{"Proliferative", "Proliférante"}},
	{SeveritySevere, []string{"Severe", "Sévère"}},
	{SeverityModerate, []string{"Moderate", "Modérée"}},
	{SeverityMild, []string{"Mild", "Légère"}},
	{SeverityHealthy, []string{"Healthy", "Sain"}},
}

// reportMarkers checks the healthy marker first, then climbs the scale.
var reportMarkers = []marker{
	severityMarkers[4],
	severityMarkers[3],
	severityMarkers[2],
	severityMarkers[1],
	severityMarkers[0],
}

// ParseSeverity matches label against the grade markers, case-sensitive.
func ParseSeverity(label string) Severity {
	if s, ok := match(severityMarkers, label); ok {
		return s
	}
	return SeverityUnknown
}

func match(markers []marker, label string) (Severity, bool) {
	if label == "" {
		return SeverityUnknown, false
	}
	for _, m := range markers {
		for _, w := range m.words {
			if strings.Contains(label, w) {
				return m.severity, true
			}
		}
	}
	return SeverityUnknown, false
}

var queueRanks = map[Severity]int{
	SeverityProliferative: 1,
	SeveritySevere:        2,
	SeverityModerate:      3,
	SeverityMild:          4,
	SeverityHealthy:       5,
}

// QueueRank orders the doctor queue: 1 is most urgent.
func (s Severity) QueueRank() int {
	if r, ok := queueRanks[s]; ok {
		return r
	}
	return UnrankedQueue
}

// Urgent reports severe and proliferative grades.
func (s Severity) Urgent() bool {
	return s == SeveritySevere || s == SeverityProliferative
}

var reportLevels = map[Severity]int{
	SeverityHealthy:       0,
	SeverityMild:          1,
	SeverityModerate:      2,
	SeveritySevere:        3,
	SeverityProliferative: 4,
}

// ReportLevel is the 0..4 clinical scale sent to the case-analysis
// service. Absent or unrecognised labels are 0.
func ReportLevel(label *string) int {
	if label == nil {
		return 0
	}
	s, ok := match(reportMarkers, *label)
	if !ok {
		return 0
	}
	return reportLevels[s]
}
