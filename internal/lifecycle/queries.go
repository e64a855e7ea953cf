package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"talentflex/internal/application"
	"talentflex/internal/database"
)

// Get loads an application without its files.
func (s *Service) Get(ctx context.Context, id string) (*database.JobApplication, error) {
	return s.first(s.db.WithContext(ctx).Where("id = ?", id))
}

// GetByToken resolves a share token.
func (s *Service) GetByToken(ctx context.Context, token string) (*database.JobApplication, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	return s.first(s.db.WithContext(ctx).Preload("Files").Preload("Analysis").Where("token = ?", token))
}

// Details loads an application with its files and latest analysis.
func (s *Service) Details(ctx context.Context, id string) (*database.JobApplication, error) {
	return s.first(s.db.WithContext(ctx).Preload("Files").Preload("Analysis").Where("id = ?", id))
}

func (s *Service) first(q *gorm.DB) (*database.JobApplication, error) {
	var app database.JobApplication
	if err := q.First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load application: %w", err)
	}
	return &app, nil
}

// ListFilter 是雇主侧申请列表的筛选条件。
type ListFilter struct {
	Status *application.Status
	// CandidateID 非空时只返回该候选人认领的申请。
	CandidateID string
	Query       string
	Limit       int
	Offset      int
}

// PipelineItem 是列表中的一行，附带分数与感兴趣的雇主数量。
type PipelineItem struct {
	Application         database.JobApplication
	OverallScore        *float64
	InterestedEmployers int64
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// List 返回按更新时间倒序的申请以及满足条件的总数。
func (s *Service) List(ctx context.Context, f ListFilter) ([]PipelineItem, int64, error) {
	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&database.JobApplication{})
		if f.Status != nil {
			q = q.Where("status = ?", *f.Status)
		}
		if f.CandidateID != "" {
			q = q.Where("candidate_id = ?", f.CandidateID)
		}
		if term := strings.ToLower(strings.TrimSpace(f.Query)); term != "" {
			like := "%" + likeEscaper.Replace(term) + "%"
			q = q.Where(`LOWER(job_title) LIKE ? ESCAPE '\' OR LOWER(company_name) LIKE ? ESCAPE '\' OR token = ?`, like, like, strings.TrimSpace(f.Query))
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var apps []database.JobApplication
	if err := filtered().Order("updated_at DESC").Order("id").Limit(limit).Offset(offset).Find(&apps).Error; err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	if len(apps) == 0 {
		return []PipelineItem{}, total, nil
	}

	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
	}

	var scores []struct {
		ApplicationID string
		OverallScore  float64
	}
	if err := s.db.WithContext(ctx).Model(&database.ApplicationAnalysis{}).
		Select("application_id, overall_score").
		Where("application_id IN ?", ids).
		Scan(&scores).Error; err != nil {
		return nil, 0, fmt.Errorf("load scores: %w", err)
	}
	scoreByID := make(map[string]float64, len(scores))
	for _, sc := range scores {
		scoreByID[sc.ApplicationID] = sc.OverallScore
	}

	var interested []struct {
		ApplicationID string
		Total         int64
	}
	if err := s.db.WithContext(ctx).Model(&database.EmployerDecision{}).
		Select("application_id, COUNT(*) AS total").
		Where("application_id IN ? AND decision = ?", ids, application.DecisionInterested).
		Group("application_id").
		Scan(&interested).Error; err != nil {
		return nil, 0, fmt.Errorf("count interested employers: %w", err)
	}
	interestedByID := make(map[string]int64, len(interested))
	for _, row := range interested {
		interestedByID[row.ApplicationID] = row.Total
	}

	items := make([]PipelineItem, 0, len(apps))
	for _, a := range apps {
		item := PipelineItem{Application: a, InterestedEmployers: interestedByID[a.ID]}
		if score, ok := scoreByID[a.ID]; ok {
			item.OverallScore = &score
		}
		items = append(items, item)
	}
	return items, total, nil
}

// PipelineSummary 统计各状态下的申请数量。
type PipelineSummary struct {
	Unclaimed int64 `json:"unclaimed"`
	Draft     int64 `json:"draft"`
	Analyzed  int64 `json:"analyzed"`
	Submitted int64 `json:"submitted"`
	Total     int64 `json:"total"`
}

// InProgress counts applications a candidate is still working on.
func (p PipelineSummary) InProgress() int64 {
	return p.Draft + p.Analyzed
}

// Summary counts applications per status.
func (s *Service) Summary(ctx context.Context) (PipelineSummary, error) {
	var rows []struct {
		Status application.Status
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&database.JobApplication{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return PipelineSummary{}, fmt.Errorf("summarize applications: %w", err)
	}

	var out PipelineSummary
	for _, r := range rows {
		switch r.Status {
		case application.StatusUnclaimed:
			out.Unclaimed = r.Total
		case application.StatusDraft:
			out.Draft = r.Total
		case application.StatusAnalyzed:
			out.Analyzed = r.Total
		case application.StatusSubmitted:
			out.Submitted = r.Total
		}
		out.Total += r.Total
	}
	return out, nil
}

// SavedCandidate 是雇主记录过结论的申请。
type SavedCandidate struct {
	Decision     database.EmployerDecision
	Application  database.JobApplication
	OverallScore *float64
}

// EmployerDecisions 返回雇主的结论列表，decision 为空时返回全部。
// 候选人重新编辑后不再是 submitted 的申请不出现在列表中，结论本身保留。
func (s *Service) EmployerDecisions(ctx context.Context, employerID string, decision *application.Decision) ([]SavedCandidate, error) {
	q := s.db.WithContext(ctx).Where("employer_user_id = ?", employerID)
	if decision != nil {
		q = q.Where("decision = ?", *decision)
	}
	var decisions []database.EmployerDecision
	if err := q.Order("updated_at DESC").Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	if len(decisions) == 0 {
		return []SavedCandidate{}, nil
	}

	ids := make([]string, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.ApplicationID)
	}
	var apps []database.JobApplication
	if err := s.db.WithContext(ctx).Preload("Analysis").
		Where("id IN ? AND status = ?", ids, application.StatusSubmitted).
		Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("load decided applications: %w", err)
	}
	byID := make(map[string]database.JobApplication, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}

	out := make([]SavedCandidate, 0, len(decisions))
	for _, d := range decisions {
		app, ok := byID[d.ApplicationID]
		if !ok {
			continue
		}
		item := SavedCandidate{Decision: d, Application: app}
		if app.Analysis != nil {
			score := app.Analysis.OverallScore
			item.OverallScore = &score
		}
		out = append(out, item)
	}
	return out, nil
}

// DecisionFor returns the employer's decision on an application, or nil when none exists.
func (s *Service) DecisionFor(ctx context.Context, id, employerID string) (*database.EmployerDecision, error) {
	var d database.EmployerDecision
	err := s.db.WithContext(ctx).Where("application_id = ? AND employer_user_id = ?", id, employerID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load decision: %w", err)
	}
	return &d, nil
}

// History returns the transition log of an application, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]database.ApplicationEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var out []database.ApplicationEvent
	if err := s.db.WithContext(ctx).Where("application_id = ?", id).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return out, nil
}
