package scan

import (
	"testing"

	"github.com/google/uuid"
)

func queued(label string, status Status) *Scan {
	s := &Scan{ID: uuid.New(), Status: status}
	if label != "" {
		s.Diagnosis = strPtr(label)
	}
	return s
}

func TestBuildQueue_Order(t *testing.T) {
	healthy := queued("Healthy", StatusPending)
	failed := queued(FailedDiagnosis, StatusPending)
	moderate := queued("Moderate", StatusPending)
	prolif := queued("Proliferative DR", StatusPending)
	severe := queued("Sévère", StatusPending)
	mild := queued("Mild", StatusPending)

	got := BuildQueue([]*Scan{healthy, failed, moderate, prolif, severe, mild})
	want := []*Scan{prolif, severe, moderate, mild, healthy, failed}
	if len(got) != len(want) {
		t.Fatalf("expected %d scans, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i].DiagnosisLabel(), want[i].DiagnosisLabel())
		}
	}
}

func TestBuildQueue_OnlyPending(t *testing.T) {
	pending := queued("Mild", StatusPending)
	got := BuildQueue([]*Scan{
		queued("Severe", StatusValidated),
		pending,
		queued("Proliferative", StatusArchived),
	})
	if len(got) != 1 || got[0] != pending {
		t.Fatalf("expected only the pending scan, got %d scans", len(got))
	}
}

func TestBuildQueue_StableTies(t *testing.T) {
	a := queued("Severe", StatusPending)
	b := queued("Severe NPDR", StatusPending)
	c := queued("", StatusPending)
	d := queued("Pathologie Détectée", StatusPending)

	got := BuildQueue([]*Scan{c, a, d, b})
	want := []*Scan{a, b, c, d}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: ties must keep input order", i)
		}
	}
}

func TestBuildQueue_NonDecreasingRank(t *testing.T) {
	labels := []string{"Mild", "", "Severe", "Healthy", "Moderate", "x", "Proliferative", "Mild"}
	var scans []*Scan
	for _, l := range labels {
		scans = append(scans, queued(l, StatusPending))
	}
	got := BuildQueue(scans)
	for i := 1; i < len(got); i++ {
		if got[i-1].Grade().QueueRank() > got[i].Grade().QueueRank() {
			t.Fatalf("rank decreased at %d", i)
		}
	}
}

func TestBuildQueue_Empty(t *testing.T) {
	got := BuildQueue(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil queue, got %v", got)
	}
	got = BuildQueue([]*Scan{queued("Severe", StatusValidated)})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil queue, got %v", got)
	}
}
