package database

import (
	"time"

	"gorm.io/datatypes"

	"talentflex/internal/application"
)

// JobApplication 是申请聚合根，文件与分析结果只能通过它访问。
type JobApplication struct {
	ID                    string `gorm:"primaryKey;size:36"`
	Token                 string `gorm:"uniqueIndex;size:32;not null"`
	JobTitle              string `gorm:"size:255;not null"`
	CompanyName           string `gorm:"size:255;not null"`
	Location              string `gorm:"size:255"`
	JobDescription        string `gorm:"type:text"`
	Requirements          string `gorm:"type:text"`
	CaseStudyInstructions string `gorm:"type:text"`

	RequiresVideo       bool
	RequiresResume      bool
	RequiresCaseStudy   bool
	RequiresCoverLetter bool

	Status         application.Status         `gorm:"size:16;index;not null"`
	AnalysisStatus application.AnalysisStatus `gorm:"size:16;not null"`
	// AnalysisEpoch 每次开始分析或使分析失效时递增，用于丢弃过期的分析结果。
	AnalysisEpoch uint64
	AnalysisCount int
	AnalysisError string `gorm:"size:512"`

	CandidateID *string `gorm:"size:64;index"`
	SubmittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Files    []ApplicationFile    `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`
	Analysis *ApplicationAnalysis `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`
}

// RequirementFlags returns the requires* flags as a value.
func (a *JobApplication) RequirementFlags() application.Requirements {
	return application.Requirements{
		Video:       a.RequiresVideo,
		Resume:      a.RequiresResume,
		CaseStudy:   a.RequiresCaseStudy,
		CoverLetter: a.RequiresCoverLetter,
	}
}

// ClaimedBy reports whether the candidate owns the application.
func (a *JobApplication) ClaimedBy(candidateID string) bool {
	return a.CandidateID != nil && *a.CandidateID == candidateID
}

// ApplicationFile 表示某个槽位当前的文件，每个 (application_id, file_type) 至多一条。
type ApplicationFile struct {
	ID               string               `gorm:"primaryKey;size:36"`
	ApplicationID    string               `gorm:"size:36;not null;uniqueIndex:idx_application_file_slot"`
	FileType         application.FileType `gorm:"size:16;not null;uniqueIndex:idx_application_file_slot"`
	FileURL          string               `gorm:"size:1024;not null"`
	ObjectKey        string               `gorm:"size:512"`
	OriginalFilename string               `gorm:"size:255;not null"`
	MimeType         string               `gorm:"size:128;not null"`
	SizeBytes        int64
	DurationSeconds  *int
	UploadedAt       time.Time
}

// Ref converts the row back to the store reference.
func (f ApplicationFile) Ref() application.FileRef {
	return application.FileRef{
		URL:              f.FileURL,
		ObjectKey:        f.ObjectKey,
		OriginalFilename: f.OriginalFilename,
		MimeType:         f.MimeType,
		SizeBytes:        f.SizeBytes,
		DurationSeconds:  f.DurationSeconds,
	}
}

// ApplicationAnalysis 保存最近一次成功的分析，重新分析时覆盖。
type ApplicationAnalysis struct {
	ID               string                                    `gorm:"primaryKey;size:36"`
	ApplicationID    string                                    `gorm:"size:36;not null;uniqueIndex"`
	Scores           datatypes.JSONType[application.Scorecard] `gorm:"type:jsonb"`
	OverallScore     float64
	AISummary        string                      `gorm:"type:text"`
	KeyStrengths     datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	AreasOfConcern   datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	AnalysisCount    int
	ProcessingTimeMs int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EmployerDecision 每个 (application_id, employer_user_id) 仅保留最新结论。
type EmployerDecision struct {
	ID             string               `gorm:"primaryKey;size:36"`
	EmployerUserID string               `gorm:"size:64;not null;uniqueIndex:idx_decision_reviewer;index"`
	ApplicationID  string               `gorm:"size:36;not null;uniqueIndex:idx_decision_reviewer"`
	Decision       application.Decision `gorm:"size:16;not null"`
	Note           string               `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApplicationEvent 记录一次状态迁移，构成申请的迁移日志。
type ApplicationEvent struct {
	ID             uint                       `gorm:"primaryKey"`
	ApplicationID  string                     `gorm:"size:36;not null;index"`
	Operation      string                     `gorm:"size:32;not null"`
	FromStatus     application.Status         `gorm:"size:16"`
	ToStatus       application.Status         `gorm:"size:16"`
	AnalysisStatus application.AnalysisStatus `gorm:"size:16"`
	Detail         string                     `gorm:"size:512"`
	CreatedAt      time.Time                  `gorm:"index"`
}

// All lists every model for migration.
func All() []any {
	return []any{
		&JobApplication{},
		&ApplicationFile{},
		&ApplicationAnalysis{},
		&EmployerDecision{},
		&ApplicationEvent{},
	}
}
