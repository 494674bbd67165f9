package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/services"
)

func TestBrowseProfiles_EmptyIsArray(t *testing.T) {
	r, _ := newTestRouter(&fakeService{})

	w := do(t, r, http.MethodGet, "/profiles", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != `{"profiles":[]}` {
		t.Fatalf("body=%s", got)
	}
}

func TestBrowseProfiles(t *testing.T) {
	svc := &fakeService{browse: func(context.Context) ([]domain.Profile, error) {
		return []domain.Profile{{ID: "2", Name: "Sarah"}, {ID: "3", Name: "Jake"}}, nil
	}}
	r, _ := newTestRouter(svc)

	w := do(t, r, http.MethodGet, "/profiles", nil, nil)
	resp := decode[ProfilesResponse](t, w)
	if len(resp.Profiles) != 2 || resp.Profiles[0].ID != "2" {
		t.Fatalf("profiles=%+v", resp.Profiles)
	}
}

func TestSearchProfiles_ClampsK(t *testing.T) {
	var gotQ string
	var gotK int
	svc := &fakeService{search: func(_ context.Context, q string, k int) ([]services.SearchHit, error) {
		gotQ, gotK = q, k
		return []services.SearchHit{{Profile: domain.Profile{ID: "2"}, Score: 0.5}}, nil
	}}
	r, _ := newTestRouter(svc)

	cases := []struct {
		query string
		wantK int
	}{
		{"/profiles/search?q=+jazz+", 10},
		{"/profiles/search?q=jazz&k=0", 1},
		{"/profiles/search?q=jazz&k=3", 3},
		{"/profiles/search?q=jazz&k=999", 50},
		{"/profiles/search?q=jazz&k=abc", 10},
	}
	for _, tc := range cases {
		w := do(t, r, http.MethodGet, tc.query, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d", tc.query, w.Code)
		}
		if gotK != tc.wantK || gotQ != "jazz" {
			t.Fatalf("%s: q=%q k=%d want k=%d", tc.query, gotQ, gotK, tc.wantK)
		}
		resp := decode[SearchResponse](t, w)
		if resp.Query != "jazz" || len(resp.Results) != 1 {
			t.Fatalf("resp=%+v", resp)
		}
	}
}

func TestPreferences_GetAndPut(t *testing.T) {
	var saved domain.Preferences
	svc := &fakeService{savePrefs: func(_ context.Context, p domain.Preferences) error {
		if p.AgeRange.Min > p.AgeRange.Max {
			return services.ErrInvalidPreferences
		}
		saved = p
		return nil
	}}
	r, _ := newTestRouter(svc)

	w := do(t, r, http.MethodGet, "/preferences", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := decode[domain.Preferences](t, w); got.AgeRange != domain.DefaultPreferences().AgeRange {
		t.Fatalf("defaults=%+v", got)
	}

	want := domain.Preferences{AgeRange: domain.AgeRange{Min: 25, Max: 40}, GenderPreference: []domain.Gender{domain.GenderFemale}, MaxDistance: 30}
	w = do(t, r, http.MethodPut, "/preferences", want, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if saved.AgeRange != want.AgeRange || saved.MaxDistance != 30 || len(saved.GenderPreference) != 1 {
		t.Fatalf("saved=%+v", saved)
	}

	bad := domain.Preferences{AgeRange: domain.AgeRange{Min: 50, Max: 20}}
	w = do(t, r, http.MethodPut, "/preferences", bad, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeValidation {
		t.Fatalf("code=%q", er.Code)
	}

	w = do(t, r, http.MethodPut, "/preferences", "not json", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}
