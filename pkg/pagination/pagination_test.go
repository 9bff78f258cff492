package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/scans?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit, Offset: 0}},
		{"limit=5&offset=10", Params{Limit: 5, Offset: 10}},
		{"limit=1000", Params{Limit: MaxLimit, Offset: 0}},
		{"limit=-3&offset=-1", Params{Limit: DefaultLimit, Offset: 0}},
		{"size=10&page=2", Params{Limit: 10, Offset: 20}},
		{"limit=10&offset=5&page=9", Params{Limit: 10, Offset: 5}},
		{"limit=abc", Params{Limit: DefaultLimit, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := paramsFor(tt.query); got != tt.want {
				t.Errorf("FromContext(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if !p.HasNext(20) || p.HasNext(15) {
		t.Error("unexpected HasNext result")
	}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious")
	}
	if p.NextOffset() != 15 {
		t.Errorf("NextOffset = %d, want 15", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("PreviousOffset = %d, want 0", p.PreviousOffset())
	}
}

func TestNewResponse_WithLinks(t *testing.T) {
	resp := NewResponse([]string{"a"}, 25, Params{Limit: 10, Offset: 10}).WithLinks("/api/scans")
	if !resp.HasMore {
		t.Error("expected HasMore")
	}
	if resp.Links.Self != "/api/scans?limit=10&offset=10" {
		t.Errorf("self = %s", resp.Links.Self)
	}
	if resp.Links.Next != "/api/scans?limit=10&offset=20" {
		t.Errorf("next = %s", resp.Links.Next)
	}
	if resp.Links.Previous != "/api/scans?limit=10&offset=0" {
		t.Errorf("previous = %s", resp.Links.Previous)
	}

	last := NewResponse(nil, 25, Params{Limit: 10, Offset: 20}).WithLinks("/api/scans")
	if last.HasMore || last.Links.Next != "" {
		t.Error("expected no next page on the last page")
	}
}
