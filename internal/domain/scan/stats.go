package scan

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UnclassifiedLabel buckets scans with no diagnosis in the distribution.
const UnclassifiedLabel = "Unclassified"

const histogramDays = 7

// DayCount is one bucket of the submissions histogram.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Histogram is ordered oldest day first. It marshals as a JSON object whose
// keys keep that order.
type Histogram []DayCount

func (h Histogram) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(d.Date)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(d.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Snapshot is the dashboard view over every scan.
type Snapshot struct {
	SeverityDistribution map[string]int   `json:"severity_distribution"`
	SymptomFrequency     map[string]int   `json:"symptom_frequency"`
	Patients             []PatientSummary `json:"patients"`
	TotalScans           int              `json:"total_scans"`
	UrgentCases          int              `json:"urgent_cases"`
	PendingCases         int              `json:"pending_cases"`
	AverageConfidence    float64          `json:"average_confidence"`
	Last7Days            Histogram        `json:"last_7_days"`
}

// Aggregator computes snapshots. Calendar days are taken in loc.
type Aggregator struct {
	rules []SymptomRule
	loc   *time.Location
	now   func() time.Time
}

func NewAggregator(rules []SymptomRule, loc *time.Location, now func() time.Time) *Aggregator {
	if rules == nil {
		rules = DefaultSymptomRules
	}
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{rules: rules, loc: loc, now: now}
}

// Aggregate makes one pass over scans.
func (a *Aggregator) Aggregate(scans []*Scan) *Snapshot {
	snap := &Snapshot{
		SeverityDistribution: make(map[string]int),
		SymptomFrequency:     make(map[string]int),
		Patients:             []PatientSummary{},
		TotalScans:           len(scans),
		Last7Days:            a.emptyHistogram(),
	}

	dayIndex := make(map[string]int, len(snap.Last7Days))
	for i, d := range snap.Last7Days {
		dayIndex[d.Date] = i
	}

	seen := make(map[uuid.UUID]bool)
	var confSum float64
	var confN int

	for _, s := range scans {
		label := UnclassifiedLabel
		if s.Diagnosis != nil {
			label = *s.Diagnosis
		}
		snap.SeverityDistribution[label]++

		if s.Symptoms != nil {
			snap.SymptomFrequency[ClassifySymptom(a.rules, *s.Symptoms)]++
		}

		if s.Patient != nil && !seen[s.Patient.ID] {
			seen[s.Patient.ID] = true
			snap.Patients = append(snap.Patients, *s.Patient)
		}

		if s.Grade().Urgent() {
			snap.UrgentCases++
		}
		if s.Status == StatusPending {
			snap.PendingCases++
		}
		if s.Confidence != nil {
			confSum += *s.Confidence
			confN++
		}

		if i, ok := dayIndex[s.CreatedAt.In(a.loc).Format(time.DateOnly)]; ok {
			snap.Last7Days[i].Count++
		}
	}

	if confN > 0 {
		snap.AverageConfidence = roundHalfUp(confSum/float64(confN), 2)
	}
	return snap
}

func (a *Aggregator) emptyHistogram() Histogram {
	today := a.now().In(a.loc)
	y, m, d := today.Date()
	h := make(Histogram, histogramDays)
	for i := 0; i < histogramDays; i++ {
		day := time.Date(y, m, d-(histogramDays-1-i), 0, 0, 0, 0, a.loc)
		h[i] = DayCount{Date: day.Format(time.DateOnly)}
	}
	return h
}

func roundHalfUp(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(v*p+0.5) / p
}
