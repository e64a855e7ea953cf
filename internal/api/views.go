package api

import (
	"context"
	"time"

	"talentflex/internal/application"
	"talentflex/internal/database"
	"talentflex/internal/lifecycle"
)

type fileView struct {
	Slot            application.FileType `json:"slot"`
	URL             string               `json:"url"`
	DownloadURL     string               `json:"download_url,omitempty"`
	Filename        string               `json:"filename"`
	MimeType        string               `json:"mime_type"`
	SizeBytes       int64                `json:"size_bytes"`
	DurationSeconds *int                 `json:"duration_seconds,omitempty"`
	UploadedAt      time.Time            `json:"uploaded_at"`
}

type analysisView struct {
	Scores           application.Scorecard `json:"scores"`
	OverallScore     float64               `json:"overall_score"`
	Summary          string                `json:"ai_summary"`
	KeyStrengths     []string              `json:"key_strengths"`
	AreasOfConcern   []string              `json:"areas_of_concern"`
	AnalysisCount    int                   `json:"analysis_count"`
	ProcessingTimeMs int64                 `json:"processing_time_ms"`
	CreatedAt        time.Time             `json:"created_at"`
}

type decisionView struct {
	ApplicationID string               `json:"application_id"`
	Decision      application.Decision `json:"decision"`
	Note          string               `json:"note,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type applicationView struct {
	ID                    string                     `json:"id"`
	Token                 string                     `json:"token"`
	Link                  string                     `json:"link"`
	JobTitle              string                     `json:"job_title"`
	CompanyName           string                     `json:"company_name"`
	Location              string                     `json:"location,omitempty"`
	JobDescription        string                     `json:"job_description,omitempty"`
	Requirements          string                     `json:"requirements,omitempty"`
	CaseStudyInstructions string                     `json:"case_study_instructions,omitempty"`
	Requires              application.Requirements   `json:"requires"`
	Status                application.Status         `json:"status"`
	AnalysisStatus        application.AnalysisStatus `json:"analysis_status"`
	AnalysisError         string                     `json:"analysis_error,omitempty"`
	AnalysisCount         int                        `json:"analysis_count"`
	CandidateID           *string                    `json:"candidate_id,omitempty"`
	SubmittedAt           *time.Time                 `json:"submitted_at,omitempty"`
	CreatedAt             time.Time                  `json:"created_at"`
	UpdatedAt             time.Time                  `json:"updated_at"`
	Files                 []fileView                 `json:"files,omitempty"`
	Analysis              *analysisView              `json:"analysis,omitempty"`
	MyDecision            *decisionView              `json:"my_decision,omitempty"`
}

type pipelineItemView struct {
	ID                  string                     `json:"id"`
	Token               string                     `json:"token"`
	JobTitle            string                     `json:"job_title"`
	CompanyName         string                     `json:"company_name"`
	Status              application.Status         `json:"status"`
	AnalysisStatus      application.AnalysisStatus `json:"analysis_status"`
	CandidateID         *string                    `json:"candidate_id,omitempty"`
	OverallScore        *float64                   `json:"overall_score,omitempty"`
	InterestedEmployers int64                      `json:"interested_employers,omitempty"`
	SubmittedAt         *time.Time                 `json:"submitted_at,omitempty"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

type savedCandidateView struct {
	decisionView
	Token        string             `json:"token"`
	JobTitle     string             `json:"job_title"`
	CompanyName  string             `json:"company_name"`
	Status       application.Status `json:"status"`
	OverallScore *float64           `json:"overall_score,omitempty"`
}

type transitionView struct {
	Operation      string                     `json:"operation"`
	FromStatus     application.Status         `json:"from_status,omitempty"`
	ToStatus       application.Status         `json:"to_status"`
	AnalysisStatus application.AnalysisStatus `json:"analysis_status"`
	Detail         string                     `json:"detail,omitempty"`
	At             time.Time                  `json:"at"`
}

func (h *Handler) shareLink(token string) string {
	return h.publicBaseURL + "/application/" + token
}

func (h *Handler) applicationView(ctx context.Context, app *database.JobApplication) applicationView {
	v := applicationView{
		ID:                    app.ID,
		Token:                 app.Token,
		Link:                  h.shareLink(app.Token),
		JobTitle:              app.JobTitle,
		CompanyName:           app.CompanyName,
		Location:              app.Location,
		JobDescription:        app.JobDescription,
		Requirements:          app.Requirements,
		CaseStudyInstructions: app.CaseStudyInstructions,
		Requires:              app.RequirementFlags(),
		Status:                app.Status,
		AnalysisStatus:        app.AnalysisStatus,
		AnalysisError:         app.AnalysisError,
		AnalysisCount:         app.AnalysisCount,
		CandidateID:           app.CandidateID,
		SubmittedAt:           app.SubmittedAt,
		CreatedAt:             app.CreatedAt,
		UpdatedAt:             app.UpdatedAt,
	}
	for _, f := range app.Files {
		v.Files = append(v.Files, h.fileView(ctx, f))
	}
	if a := app.Analysis; a != nil {
		v.Analysis = &analysisView{
			Scores:           a.Scores.Data(),
			OverallScore:     a.OverallScore,
			Summary:          a.AISummary,
			KeyStrengths:     []string(a.KeyStrengths),
			AreasOfConcern:   []string(a.AreasOfConcern),
			AnalysisCount:    a.AnalysisCount,
			ProcessingTimeMs: a.ProcessingTimeMs,
			CreatedAt:        a.CreatedAt,
		}
	}
	return v
}

func (h *Handler) fileView(ctx context.Context, f database.ApplicationFile) fileView {
	return fileView{
		Slot:            f.FileType,
		URL:             f.FileURL,
		DownloadURL:     h.downloadURL(ctx, f),
		Filename:        f.OriginalFilename,
		MimeType:        f.MimeType,
		SizeBytes:       f.SizeBytes,
		DurationSeconds: f.DurationSeconds,
		UploadedAt:      f.UploadedAt,
	}
}

func newDecisionView(d *database.EmployerDecision) *decisionView {
	if d == nil {
		return nil
	}
	return &decisionView{
		ApplicationID: d.ApplicationID,
		Decision:      d.Decision,
		Note:          d.Note,
		UpdatedAt:     d.UpdatedAt,
	}
}

// newPipelineItemView 渲染列表行。withCandidate 为 false 时不暴露候选人 ID。
func newPipelineItemView(item lifecycle.PipelineItem, withCandidate bool) pipelineItemView {
	a := item.Application
	v := pipelineItemView{
		ID:                  a.ID,
		Token:               a.Token,
		JobTitle:            a.JobTitle,
		CompanyName:         a.CompanyName,
		Status:              a.Status,
		AnalysisStatus:      a.AnalysisStatus,
		CandidateID:         a.CandidateID,
		OverallScore:        item.OverallScore,
		InterestedEmployers: item.InterestedEmployers,
		SubmittedAt:         a.SubmittedAt,
		UpdatedAt:           a.UpdatedAt,
	}
	if !withCandidate {
		v.CandidateID = nil
	}
	return v
}

func newSavedCandidateView(s lifecycle.SavedCandidate) savedCandidateView {
	return savedCandidateView{
		decisionView: *newDecisionView(&s.Decision),
		Token:        s.Application.Token,
		JobTitle:     s.Application.JobTitle,
		CompanyName:  s.Application.CompanyName,
		Status:       s.Application.Status,
		OverallScore: s.OverallScore,
	}
}

func newTransitionView(e database.ApplicationEvent) transitionView {
	return transitionView{
		Operation:      e.Operation,
		FromStatus:     e.FromStatus,
		ToStatus:       e.ToStatus,
		AnalysisStatus: e.AnalysisStatus,
		Detail:         e.Detail,
		At:             e.CreatedAt,
	}
}
