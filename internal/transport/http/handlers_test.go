package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"contactguard/internal/blindindex"
	"contactguard/internal/canary"
	"contactguard/internal/governor"
	"contactguard/internal/reconciler"
	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
	"contactguard/internal/resolver"
	httptransport "contactguard/internal/transport/http"
	"contactguard/internal/vault"
)

type TransportSuite struct {
	suite.Suite
	units    *store.MemoryUnits
	subjects *store.MemorySubjects
	server   *httptest.Server
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	log := zap.NewNop()
	s.units = store.NewMemoryUnits()
	s.subjects = store.NewMemorySubjects()
	prefs := store.NewMemoryPreferences()

	v, err := vault.New(context.Background(),
		vault.StaticKeySource("0123456789abcdef0123456789abcdef"), log)
	s.Require().NoError(err)
	deriver := blindindex.NewDeriver("test-pepper")

	gov := governor.New(s.subjects, governor.NewMemoryWindow(2, governor.DefaultRateWindow), log,
		governor.WithPendingCeiling(5))

	rec := reconciler.New(reconciler.Config{
		Units:       s.units,
		Subjects:    s.subjects,
		Preferences: prefs,
		Vault:       v,
		Deriver:     deriver,
		Tx:          reconciler.NewShardedTx(),
		Quota:       gov,
		Escalation:  []string{"office@complex.example"},
		Logger:      log,
	})

	aliases := resolver.NewDirectory(store.NewMemoryAliases(
		models.Alias{CanonicalType: "квартира", ShortForm: "кв", Surface: "кв"},
		models.Alias{CanonicalType: "квартира", ShortForm: "кв", Surface: "квартира"},
	))
	res := resolver.New(s.units, store.NewMemoryUnrecognized(), aliases,
		resolver.LevenshteinScorer{}, log)

	can := canary.New(s.units, canary.NewMemoryStore(), log)

	handler := httptransport.NewHandler(res, rec, gov, can, aliases, deriver, log)
	s.server = httptest.NewServer(httptransport.NewRouter(handler, log, nil))
	s.T().Cleanup(s.server.Close)

	s.Require().NoError(s.units.CreateIfAbsent(context.Background(), &models.Unit{
		ID: "77:01:0001001:101", Entrance: "1",
		Type: "квартира", Number: "15", NormalizedNumber: "15",
	}))
}

func (s *TransportSuite) postJSON(path string, body any) *http.Response {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(raw))
	s.Require().NoError(err)
	return resp
}

func (s *TransportSuite) decode(resp *http.Response, into any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *TransportSuite) TestResolveEndpoint() {
	resp, err := http.Get(s.server.URL + "/v1/units/resolve?q=" + "%D0%BA%D0%B2%2015") // "кв 15"
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Matches []struct {
			UnitID     string  `json:"unit_id"`
			Display    string  `json:"display"`
			Confidence float64 `json:"confidence"`
		} `json:"matches"`
	}
	s.decode(resp, &body)
	s.Require().Len(body.Matches, 1)
	s.Equal("77:01:0001001:101", body.Matches[0].UnitID)
	s.InDelta(1.0, body.Matches[0].Confidence, 1e-9)
}

func (s *TransportSuite) TestSubmitCreatesAndMatches() {
	resp := s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "+7 916 123-45-67",
	})
	s.Equal(http.StatusCreated, resp.StatusCode)

	var first struct {
		SubjectID string `json:"subject_id"`
		Created   bool   `json:"created"`
	}
	s.decode(resp, &first)
	s.True(first.Created)

	// The same phone in another surface form lands on the same record with a
	// 200 instead of a 201.
	resp = s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "89161234567",
	})
	s.Equal(http.StatusOK, resp.StatusCode)

	var second struct {
		SubjectID string `json:"subject_id"`
		Created   bool   `json:"created"`
	}
	s.decode(resp, &second)
	s.False(second.Created)
	s.Equal(first.SubjectID, second.SubjectID)
}

func (s *TransportSuite) TestSubmitValidationError() {
	resp := s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "12345",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Code   string   `json:"code"`
			Fields []string `json:"fields"`
		} `json:"error"`
	}
	s.decode(resp, &body)
	s.Equal("invalid_input", body.Error.Code)
	s.Equal([]string{"phone"}, body.Error.Fields)
}

func (s *TransportSuite) TestCollisionMapsToConflict() {
	resp := s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "+79161234567",
		"email":   "a@example.com",
	})
	s.Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "+79161234567",
		"email":   "b@example.com",
	})
	s.Equal(http.StatusConflict, resp.StatusCode)

	var body struct {
		Error struct {
			Code   string   `json:"code"`
			Fields []string `json:"fields"`
		} `json:"error"`
	}
	s.decode(resp, &body)
	s.Equal("collision", body.Error.Code)
	s.Equal([]string{"email"}, body.Error.Fields)
}

func (s *TransportSuite) TestRateLimitCarriesRetryAfter() {
	// The window admits 2 per identity; bot submissions key on the messenger
	// blind index, so the third call from the same account is refused.
	want := []int{http.StatusCreated, http.StatusOK}
	for i := 0; i < 2; i++ {
		resp := s.postJSON("/v1/submissions", map[string]any{
			"unit_id":      "77:01:0001001:101",
			"messenger_id": "@resident",
			"channel":      "bot",
		})
		s.Equal(want[i], resp.StatusCode)
		resp.Body.Close()
	}

	resp := s.postJSON("/v1/submissions", map[string]any{
		"unit_id":      "77:01:0001001:101",
		"messenger_id": "@resident",
		"channel":      "bot",
	})
	s.Equal(http.StatusTooManyRequests, resp.StatusCode)
	s.NotEmpty(resp.Header.Get("Retry-After"))
	resp.Body.Close()
}

func (s *TransportSuite) TestWebSubmissionsKeyOnSourceAddress() {
	// On the web form a messenger id is an ordinary contact field. The window
	// still keys on the source address, so rotating messenger ids buys a
	// single caller no extra quota.
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := s.postJSON("/v1/submissions", map[string]any{
			"unit_id":      "77:01:0001001:101",
			"messenger_id": fmt.Sprintf("@rotating%d", i),
			"channel":      "web",
		})
		statuses = append(statuses, resp.StatusCode)
		resp.Body.Close()
	}
	s.Equal([]int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, statuses)
}

func (s *TransportSuite) TestPendingCountEndpoint() {
	resp := s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "+79161234567",
	})
	s.Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	got, err := http.Get(s.server.URL + "/v1/units/77:01:0001001:101/pending")
	s.Require().NoError(err)
	s.Equal(http.StatusOK, got.StatusCode)

	var body map[string]int
	s.decode(got, &body)
	s.Equal(1, body["pending"])
}

func (s *TransportSuite) TestCanaryEndpointIsIdempotent() {
	issue := func() map[string]string {
		resp := s.postJSON("/v1/canaries", map[string]any{
			"operator_id": "operator-a",
			"scope":       "1",
		})
		s.Equal(http.StatusOK, resp.StatusCode)
		var body map[string]string
		s.decode(resp, &body)
		return body
	}

	first := issue()
	second := issue()
	s.Equal(first["id"], second["id"])
	s.Equal(first["phone"], second["phone"])
}

func (s *TransportSuite) TestImportEndpointReportsRowErrors() {
	resp := s.postJSON("/v1/imports", map[string]any{
		"mode": "full",
		"rows": []map[string]any{
			{"unit_id": "77:01:0001001:300", "unit_type": "квартира", "unit_number": "30", "phone": "+79161230000"},
			{"unit_id": "broken"},
		},
	})
	s.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Accepted int `json:"accepted"`
		Rejected int `json:"rejected"`
		Errors   []struct {
			Row int `json:"row"`
		} `json:"errors"`
	}
	s.decode(resp, &body)
	s.Equal(1, body.Accepted)
	s.Equal(1, body.Rejected)
	s.Require().Len(body.Errors, 1)
	s.Equal(3, body.Errors[0].Row)
}

func (s *TransportSuite) TestValidateAndDeactivateTransitions() {
	resp := s.postJSON("/v1/submissions", map[string]any{
		"unit_id": "77:01:0001001:101",
		"phone":   "+79161234567",
	})
	var created struct {
		SubjectID string `json:"subject_id"`
	}
	s.decode(resp, &created)

	validate := s.postJSON("/v1/subjects/"+created.SubjectID+"/validate", nil)
	s.Equal(http.StatusNoContent, validate.StatusCode)
	validate.Body.Close()

	// A second validate hits the not-pending invariant.
	again := s.postJSON("/v1/subjects/"+created.SubjectID+"/validate", nil)
	s.Equal(http.StatusConflict, again.StatusCode)
	again.Body.Close()

	deactivate := s.postJSON("/v1/subjects/"+created.SubjectID+"/deactivate", nil)
	s.Equal(http.StatusNoContent, deactivate.StatusCode)
	deactivate.Body.Close()
}

func (s *TransportSuite) TestHealthEndpoint() {
	resp, err := http.Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
