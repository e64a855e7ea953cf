package application

import (
	"fmt"
	"strings"
)

// Status 表示申请在生命周期中的位置。
type Status string

const (
	StatusUnclaimed Status = "unclaimed"
	StatusDraft     Status = "draft"
	StatusAnalyzed  Status = "analyzed"
	StatusSubmitted Status = "submitted"
)

// Statuses lists every Status in lifecycle order.
var Statuses = []Status{StatusUnclaimed, StatusDraft, StatusAnalyzed, StatusSubmitted}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusUnclaimed, StatusDraft, StatusAnalyzed, StatusSubmitted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown application status %q", raw)
	}
}

// Demoted returns the status an application falls back to once its analysis is invalidated.
func (s Status) Demoted() Status {
	switch s {
	case StatusAnalyzed, StatusSubmitted:
		return StatusDraft
	case StatusUnclaimed, StatusDraft:
		return s
	default:
		panic(fmt.Sprintf("application: unhandled status %q", string(s)))
	}
}

// AnalysisStatus 表示分析任务的状态。
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// ParseAnalysisStatus validates a raw analysis status value.
func ParseAnalysisStatus(raw string) (AnalysisStatus, error) {
	s := AnalysisStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case AnalysisPending, AnalysisProcessing, AnalysisCompleted, AnalysisFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown analysis status %q", raw)
	}
}

// FileType names a document slot of an application.
type FileType string

const (
	FileResume      FileType = "resume"
	FileCoverLetter FileType = "cover_letter"
	FileCaseStudy   FileType = "case_study"
	FileVideo       FileType = "video"
)

// FileTypes lists every slot in the order they are presented to candidates.
var FileTypes = []FileType{FileVideo, FileResume, FileCaseStudy, FileCoverLetter}

// ParseFileType validates a slot name.
func ParseFileType(raw string) (FileType, error) {
	f := FileType(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FileResume, FileCoverLetter, FileCaseStudy, FileVideo:
		return f, nil
	default:
		return "", fmt.Errorf("unknown file slot %q", raw)
	}
}

// Category returns the scoring category fed by the slot. Cover letters have none.
func (f FileType) Category() (Category, bool) {
	switch f {
	case FileVideo:
		return CategoryVideo, true
	case FileResume:
		return CategoryCV, true
	case FileCaseStudy:
		return CategoryCaseStudy, true
	case FileCoverLetter:
		return "", false
	default:
		panic(fmt.Sprintf("application: unhandled file type %q", string(f)))
	}
}

// Decision 表示雇主对已提交申请的结论。
type Decision string

const (
	DecisionInterested Decision = "interested"
	DecisionRejected   Decision = "rejected"
)

// ParseDecision validates a raw decision value.
func ParseDecision(raw string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DecisionInterested, DecisionRejected:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", raw)
	}
}

// Role identifies the kind of caller.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleEmployer  Role = "employer"
	RoleInternal  Role = "internal"
)

// ParseRole validates a raw role value.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch r {
	case RoleCandidate, RoleEmployer, RoleInternal:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Requirements holds the slots a posting asks for. Immutable after creation.
type Requirements struct {
	Video       bool `json:"requires_video" yaml:"video"`
	Resume      bool `json:"requires_resume" yaml:"resume"`
	CaseStudy   bool `json:"requires_case_study" yaml:"case_study"`
	CoverLetter bool `json:"requires_cover_letter" yaml:"cover_letter"`
}

// Requires reports whether the slot must be filled before analysis.
func (r Requirements) Requires(f FileType) bool {
	switch f {
	case FileVideo:
		return r.Video
	case FileResume:
		return r.Resume
	case FileCaseStudy:
		return r.CaseStudy
	case FileCoverLetter:
		return r.CoverLetter
	default:
		panic(fmt.Sprintf("application: unhandled file type %q", string(f)))
	}
}

// Missing returns the required slots absent from present, in FileTypes order.
func (r Requirements) Missing(present map[FileType]bool) []FileType {
	var missing []FileType
	for _, f := range FileTypes {
		if r.Requires(f) && !present[f] {
			missing = append(missing, f)
		}
	}
	return missing
}
