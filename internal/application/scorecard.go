package application

import (
	"errors"
	"fmt"
	"strings"
)

// Category 表示分析报告中的评分维度组。
type Category string

const (
	CategoryVideo     Category = "video"
	CategoryCV        Category = "cv"
	CategoryCaseStudy Category = "case_study"
)

// Sub-score dimensions per category.
const (
	DimensionCommunication   = "communication"
	DimensionClarity         = "clarity"
	DimensionConfidence      = "confidence"
	DimensionRelevance       = "relevance"
	DimensionExperienceMatch = "experience_match"
	DimensionSkillsMatch     = "skills_match"
	DimensionProblemSolving  = "problem_solving"
	DimensionAnalyticalDepth = "analytical_depth"
	DimensionPresentation    = "presentation"
)

const (
	MinSubScore     = 1.0
	MaxSubScore     = 10.0
	MaxOverallScore = 100.0
)

// Dimensions returns the sub-score names a category carries.
func (c Category) Dimensions() []string {
	switch c {
	case CategoryVideo:
		return []string{DimensionCommunication, DimensionClarity, DimensionConfidence}
	case CategoryCV:
		return []string{DimensionRelevance, DimensionExperienceMatch, DimensionSkillsMatch}
	case CategoryCaseStudy:
		return []string{DimensionProblemSolving, DimensionAnalyticalDepth, DimensionPresentation}
	default:
		return nil
	}
}

// CategoryScore is the result for one assessed category, all values on the 1-10 scale.
type CategoryScore struct {
	Overall    float64            `json:"overall"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// Scorecard maps each assessed category to its score. A category that was not
// assessed is absent rather than zero.
type Scorecard map[Category]CategoryScore

// Get returns the score of a category and whether it was assessed.
func (s Scorecard) Get(c Category) (CategoryScore, bool) {
	score, ok := s[c]
	return score, ok
}

// Validate checks category names, dimension names and the 1-10 range.
func (s Scorecard) Validate() error {
	var errs []error
	for category, score := range s {
		dims := category.Dimensions()
		if dims == nil {
			errs = append(errs, fmt.Errorf("unknown category %q", category))
			continue
		}
		if !inSubScoreRange(score.Overall) {
			errs = append(errs, fmt.Errorf("%s overall score %.2f out of range", category, score.Overall))
		}
		for name, value := range score.Dimensions {
			if !containsString(dims, name) {
				errs = append(errs, fmt.Errorf("%s has unknown dimension %q", category, name))
				continue
			}
			if !inSubScoreRange(value) {
				errs = append(errs, fmt.Errorf("%s %s score %.2f out of range", category, name, value))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateOverall checks the 0-100 overall score.
func ValidateOverall(score float64) error {
	if score < 0 || score > MaxOverallScore {
		return fmt.Errorf("overall score %.2f out of range", score)
	}
	return nil
}

func inSubScoreRange(v float64) bool {
	return v >= MinSubScore && v <= MaxSubScore
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// FileRef is the durable reference returned by the file store for one upload.
type FileRef struct {
	URL              string `json:"url"`
	ObjectKey        string `json:"object_key,omitempty"`
	OriginalFilename string `json:"filename"`
	MimeType         string `json:"mime_type"`
	SizeBytes        int64  `json:"size_bytes"`
	DurationSeconds  *int   `json:"duration_seconds,omitempty"`
}

// Validate checks the reference is complete for the slot.
func (r FileRef) Validate(slot FileType) error {
	switch {
	case strings.TrimSpace(r.URL) == "":
		return errors.New("file url is required")
	case strings.TrimSpace(r.OriginalFilename) == "":
		return errors.New("filename is required")
	case strings.TrimSpace(r.MimeType) == "":
		return errors.New("mime type is required")
	case r.SizeBytes <= 0:
		return errors.New("size must be positive")
	}
	if slot == FileVideo {
		if r.DurationSeconds == nil {
			return errors.New("video duration is required")
		}
		if *r.DurationSeconds <= 0 {
			return errors.New("video duration must be positive")
		}
	}
	return nil
}
