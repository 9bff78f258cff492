package scan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func floatPtr(f float64) *float64 { return &f }

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAggregate_Empty(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	snap := NewAggregator(nil, time.UTC, fixedNow(now)).Aggregate(nil)

	if snap.TotalScans != 0 || snap.UrgentCases != 0 || snap.PendingCases != 0 {
		t.Errorf("expected zero counts, got %+v", snap)
	}
	if snap.AverageConfidence != 0 {
		t.Errorf("expected 0 average, got %v", snap.AverageConfidence)
	}
	if snap.Patients == nil || len(snap.Patients) != 0 {
		t.Errorf("expected empty non-nil patients, got %v", snap.Patients)
	}
	if len(snap.Last7Days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(snap.Last7Days))
	}
	if snap.Last7Days[0].Date != "2026-03-04" || snap.Last7Days[6].Date != "2026-03-10" {
		t.Errorf("unexpected window %s..%s", snap.Last7Days[0].Date, snap.Last7Days[6].Date)
	}
	for _, d := range snap.Last7Days {
		if d.Count != 0 {
			t.Errorf("expected zero count on %s", d.Date)
		}
	}
}

func TestAggregate_Counts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	alice := &PatientSummary{ID: uuid.New(), FullName: "Alice"}
	bob := &PatientSummary{ID: uuid.New(), FullName: "Bob"}

	scans := []*Scan{
		{Patient: alice, Diagnosis: strPtr("Severe"), Confidence: floatPtr(0.7), Status: StatusPending, Symptoms: strPtr("blurry"), CreatedAt: now},
		{Patient: alice, Diagnosis: strPtr("Proliferative"), Confidence: floatPtr(0.9), Status: StatusValidated, Symptoms: strPtr("douleur"), CreatedAt: now},
		{Patient: bob, Diagnosis: nil, Confidence: nil, Status: StatusPending, CreatedAt: now.AddDate(0, 0, -1)},
		{Patient: bob, Diagnosis: strPtr("Healthy"), Status: StatusArchived, Symptoms: strPtr("itchy"), CreatedAt: now.AddDate(0, 0, -30)},
	}
	snap := NewAggregator(nil, time.UTC, fixedNow(now)).Aggregate(scans)

	if snap.TotalScans != 4 {
		t.Errorf("expected 4 scans, got %d", snap.TotalScans)
	}
	if snap.UrgentCases != 2 {
		t.Errorf("expected 2 urgent, got %d", snap.UrgentCases)
	}
	if snap.PendingCases != 2 {
		t.Errorf("expected 2 pending, got %d", snap.PendingCases)
	}
	if snap.AverageConfidence != 0.8 {
		t.Errorf("expected 0.80, got %v", snap.AverageConfidence)
	}

	wantDist := map[string]int{"Severe": 1, "Proliferative": 1, UnclassifiedLabel: 1, "Healthy": 1}
	for k, v := range wantDist {
		if snap.SeverityDistribution[k] != v {
			t.Errorf("distribution[%q] = %d, want %d", k, snap.SeverityDistribution[k], v)
		}
	}

	wantSym := map[string]int{"Blurred Vision": 1, "Pain": 1, OtherSymptoms: 1}
	if len(snap.SymptomFrequency) != len(wantSym) {
		t.Errorf("unexpected symptom buckets: %v", snap.SymptomFrequency)
	}
	for k, v := range wantSym {
		if snap.SymptomFrequency[k] != v {
			t.Errorf("symptoms[%q] = %d, want %d", k, snap.SymptomFrequency[k], v)
		}
	}

	if len(snap.Patients) != 2 || snap.Patients[0].ID != alice.ID || snap.Patients[1].ID != bob.ID {
		t.Errorf("expected unique patients in first-seen order, got %+v", snap.Patients)
	}

	if snap.Last7Days[6].Count != 2 || snap.Last7Days[5].Count != 1 {
		t.Errorf("unexpected histogram: %+v", snap.Last7Days)
	}
}

func TestAggregate_UrgentFollowsDiagnosis(t *testing.T) {
	// The stored severity may be stale; the label decides.
	scans := []*Scan{{Diagnosis: strPtr("Severe"), Severity: SeverityHealthy}}
	snap := NewAggregator(nil, time.UTC, nil).Aggregate(scans)
	if snap.UrgentCases != 1 {
		t.Errorf("expected 1 urgent, got %d", snap.UrgentCases)
	}
}

func TestAggregate_RoundsHalfUp(t *testing.T) {
	scans := []*Scan{
		{Confidence: floatPtr(0.125)},
		{Confidence: floatPtr(0.125)},
	}
	snap := NewAggregator(nil, time.UTC, nil).Aggregate(scans)
	if snap.AverageConfidence != 0.13 {
		t.Errorf("expected 0.13, got %v", snap.AverageConfidence)
	}
}

func TestAggregate_HistogramUsesLocation(t *testing.T) {
	paris := time.FixedZone("CET", 2*60*60)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, paris)
	// 23:30 UTC on the 9th is already the 10th in paris.
	late := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	tooOld := now.AddDate(0, 0, -7)

	snap := NewAggregator(nil, paris, fixedNow(now)).Aggregate([]*Scan{
		{CreatedAt: late},
		{CreatedAt: tooOld},
	})

	if snap.Last7Days[6].Date != "2026-03-10" || snap.Last7Days[6].Count != 1 {
		t.Errorf("expected late scan on 2026-03-10 local, got %+v", snap.Last7Days[6])
	}
	total := 0
	for _, d := range snap.Last7Days {
		total += d.Count
	}
	if total != 1 {
		t.Errorf("expected scans outside the window ignored, got total %d", total)
	}
}

func TestAggregate_CustomRules(t *testing.T) {
	rules := []SymptomRule{{Category: "Itch", Keywords: []string{"itch"}}}
	snap := NewAggregator(rules, time.UTC, nil).Aggregate([]*Scan{
		{Symptoms: strPtr("Itchy eyes")},
		{Symptoms: strPtr("blurry")},
	})
	if snap.SymptomFrequency["Itch"] != 1 || snap.SymptomFrequency[OtherSymptoms] != 1 {
		t.Errorf("unexpected symptoms: %v", snap.SymptomFrequency)
	}
}

func TestHistogram_MarshalJSON(t *testing.T) {
	h := Histogram{
		{Date: "2026-03-09", Count: 4},
		{Date: "2026-03-10", Count: 0},
	}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"2026-03-09":4,"2026-03-10":0}` {
		t.Errorf("unexpected JSON %s", data)
	}

	empty, _ := json.Marshal(Histogram{})
	if string(empty) != `{}` {
		t.Errorf("expected {}, got %s", empty)
	}
}

func TestSnapshot_JSONShape(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	snap := NewAggregator(nil, time.UTC, fixedNow(now)).Aggregate(nil)
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"severity_distribution", "symptom_frequency", "patients", "total_scans", "urgent_cases", "pending_cases", "average_confidence", "last_7_days"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if string(raw["patients"]) != "[]" {
		t.Errorf("expected empty patients array, got %s", raw["patients"])
	}
}
