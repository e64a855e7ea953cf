// Package analysis talks to the external scoring subsystem that turns an
// application's uploaded files into a report.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talentflex/internal/application"
)

// Engine scores a complete set of uploaded files.
type Engine interface {
	Analyze(ctx context.Context, req Request) (*Report, error)
}

// File is one uploaded document handed to the engine.
type File struct {
	Slot application.FileType `json:"slot"`
	application.FileRef
}

// Request carries the posting context and the files for one analysis run.
type Request struct {
	ApplicationID         string `json:"application_id"`
	JobTitle              string `json:"job_title"`
	CompanyName           string `json:"company_name"`
	JobDescription        string `json:"job_description,omitempty"`
	Requirements          string `json:"requirements,omitempty"`
	CaseStudyInstructions string `json:"case_study_instructions,omitempty"`
	Files                 []File `json:"files"`
}

// Slots returns the slots present in the request.
func (r Request) Slots() map[application.FileType]bool {
	out := make(map[application.FileType]bool, len(r.Files))
	for _, f := range r.Files {
		out[f.Slot] = true
	}
	return out
}

// Report is the engine's verdict. Scores only holds the categories that were assessed.
type Report struct {
	Scores         application.Scorecard `json:"scores"`
	OverallScore   float64               `json:"overall_score"`
	Summary        string                `json:"summary"`
	KeyStrengths   []string              `json:"key_strengths"`
	AreasOfConcern []string              `json:"areas_of_concern"`
}

// Validate rejects reports that would break the score ranges.
func (r *Report) Validate() error {
	if r == nil {
		return errors.New("empty report")
	}
	var errs []error
	if err := r.Scores.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := application.ValidateOverall(r.OverallScore); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.Summary) == "" {
		errs = append(errs, errors.New("summary is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	return nil
}
