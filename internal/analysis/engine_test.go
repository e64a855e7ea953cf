package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentflex/internal/application"
	"talentflex/internal/config"
)

func sampleRequest(slots ...application.FileType) Request {
	req := Request{ApplicationID: "app-1", JobTitle: "Senior Product Manager", CompanyName: "TechCorp"}
	for _, s := range slots {
		req.Files = append(req.Files, File{Slot: s, FileRef: application.FileRef{URL: "u", OriginalFilename: "f", MimeType: "m", SizeBytes: 1}})
	}
	return req
}

func TestStaticEngineScoresOnlySubmittedCategories(t *testing.T) {
	engine := NewStaticEngine(0)

	report, err := engine.Analyze(context.Background(), sampleRequest(application.FileVideo, application.FileResume, application.FileCoverLetter))
	require.NoError(t, err)
	require.NoError(t, report.Validate())

	_, hasVideo := report.Scores.Get(application.CategoryVideo)
	_, hasCV := report.Scores.Get(application.CategoryCV)
	_, hasCase := report.Scores.Get(application.CategoryCaseStudy)
	assert.True(t, hasVideo)
	assert.True(t, hasCV)
	assert.False(t, hasCase)
	assert.Equal(t, 78.0, report.OverallScore)
}

func TestStaticEngineHonoursContext(t *testing.T) {
	engine := NewStaticEngine(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := engine.Analyze(ctx, sampleRequest(application.FileResume))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPEngine(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Report{
			Scores:       application.Scorecard{application.CategoryCV: {Overall: 7}},
			OverallScore: 70,
			Summary:      "ok",
		})
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL, time.Second)
	report, err := engine.Analyze(context.Background(), sampleRequest(application.FileResume))
	require.NoError(t, err)

	assert.Equal(t, "app-1", got.ApplicationID)
	assert.Len(t, got.Files, 1)
	assert.Equal(t, 70.0, report.OverallScore)
	assert.NoError(t, report.Validate())
}

func TestHTTPEngineNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(srv.URL, time.Second).Analyze(context.Background(), sampleRequest())
	assert.ErrorContains(t, err, "status 503")
}

func TestReportValidate(t *testing.T) {
	var nilReport *Report
	assert.Error(t, nilReport.Validate())

	bad := &Report{OverallScore: 120, Summary: "x"}
	assert.Error(t, bad.Validate())

	noSummary := &Report{OverallScore: 50}
	assert.Error(t, noSummary.Validate())
}

func TestFromConfig(t *testing.T) {
	engine, err := FromConfig(config.AnalysisConfig{Engine: "static", StaticDelay: time.Second})
	require.NoError(t, err)
	require.IsType(t, &StaticEngine{}, engine)
	assert.Equal(t, time.Second, engine.(*StaticEngine).Delay)

	engine, err = FromConfig(config.AnalysisConfig{Engine: "http", Endpoint: "http://scoring.test/", Timeout: time.Minute})
	require.NoError(t, err)
	require.IsType(t, &HTTPEngine{}, engine)
	assert.Equal(t, "http://scoring.test", engine.(*HTTPEngine).endpoint)

	_, err = FromConfig(config.AnalysisConfig{Engine: "gpt"})
	assert.Error(t, err)
}
