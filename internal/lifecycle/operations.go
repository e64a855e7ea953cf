package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"talentflex/internal/application"
	"talentflex/internal/database"
	"talentflex/internal/events"
	"talentflex/internal/metrics"
)

// Posting 是新建申请时的职位信息。
type Posting struct {
	JobTitle              string                   `json:"job_title" yaml:"job_title"`
	CompanyName           string                   `json:"company_name" yaml:"company_name"`
	Location              string                   `json:"location" yaml:"location"`
	JobDescription        string                   `json:"job_description" yaml:"job_description"`
	Requirements          string                   `json:"requirements" yaml:"requirements"`
	CaseStudyInstructions string                   `json:"case_study_instructions" yaml:"case_study_instructions"`
	Requires              application.Requirements `json:"requires" yaml:"requires"`
}

func (p Posting) validate() error {
	var errs []error
	if strings.TrimSpace(p.JobTitle) == "" {
		errs = append(errs, errors.New("job_title is required"))
	}
	if strings.TrimSpace(p.CompanyName) == "" {
		errs = append(errs, errors.New("company_name is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPosting, err)
	}
	return nil
}

// Create 为职位生成一个新的 unclaimed 申请及其分享 token。
func (s *Service) Create(ctx context.Context, p Posting) (*database.JobApplication, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	token, err := newShareToken()
	if err != nil {
		return nil, err
	}

	app := database.JobApplication{
		ID:                    uuid.NewString(),
		Token:                 token,
		JobTitle:              strings.TrimSpace(p.JobTitle),
		CompanyName:           strings.TrimSpace(p.CompanyName),
		Location:              strings.TrimSpace(p.Location),
		JobDescription:        p.JobDescription,
		Requirements:          p.Requirements,
		CaseStudyInstructions: p.CaseStudyInstructions,
		RequiresVideo:         p.Requires.Video,
		RequiresResume:        p.Requires.Resume,
		RequiresCaseStudy:     p.Requires.CaseStudy,
		RequiresCoverLetter:   p.Requires.CoverLetter,
		Status:                application.StatusUnclaimed,
		AnalysisStatus:        application.AnalysisPending,
	}
	event := database.ApplicationEvent{
		ApplicationID:  app.ID,
		Operation:      OpCreate,
		ToStatus:       app.Status,
		AnalysisStatus: app.AnalysisStatus,
		CreatedAt:      s.now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&app).Error; err != nil {
			return fmt.Errorf("create application: %w", err)
		}
		event.ApplicationID = app.ID
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, &app, event, nil)
	return &app, nil
}

// newShareToken returns 12 url-safe characters.
func newShareToken() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Claim 将申请绑定到候选人。同一候选人重复 claim 为空操作。
func (s *Service) Claim(ctx context.Context, id, candidateID string) (*database.JobApplication, error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil, fmt.Errorf("%w: candidate id is required", ErrInvalidTransition)
	}
	return s.mutate(ctx, id, OpClaim, func(_ *gorm.DB, app *database.JobApplication, ch *change) error {
		if app.CandidateID != nil {
			if app.ClaimedBy(candidateID) {
				ch.skip = true
				return nil
			}
			return ErrAlreadyClaimed
		}
		app.CandidateID = &candidateID
		if app.Status == application.StatusUnclaimed {
			app.Status = application.StatusDraft
		}
		ch.detail = candidateID
		return nil
	})
}

// UploadFile 写入或覆盖某个槽位的文件。analyzed/submitted 状态下必须先 ReplaceFile。
func (s *Service) UploadFile(ctx context.Context, id string, slot application.FileType, ref application.FileRef) (*database.ApplicationFile, error) {
	slot, err := application.ParseFileType(string(slot))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSlot, err)
	}
	if err := ref.Validate(slot); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFileRef, err)
	}

	var file database.ApplicationFile
	_, err = s.mutate(ctx, id, OpUploadFile, func(tx *gorm.DB, app *database.JobApplication, ch *change) error {
		switch app.Status {
		case application.StatusAnalyzed, application.StatusSubmitted:
			return ErrApplicationLocked
		case application.StatusUnclaimed, application.StatusDraft:
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, app.Status)
		}

		err := tx.Where("application_id = ? AND file_type = ?", app.ID, slot).First(&file).Error
		switch {
		case err == nil:
			if file.ObjectKey != ref.ObjectKey {
				ch.removed = append(ch.removed, file.ObjectKey)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			file = database.ApplicationFile{ID: uuid.NewString(), ApplicationID: app.ID, FileType: slot}
		default:
			return fmt.Errorf("load file slot: %w", err)
		}

		file.FileURL = ref.URL
		file.ObjectKey = ref.ObjectKey
		file.OriginalFilename = ref.OriginalFilename
		file.MimeType = ref.MimeType
		file.SizeBytes = ref.SizeBytes
		file.DurationSeconds = ref.DurationSeconds
		file.UploadedAt = s.now()
		if err := tx.Save(&file).Error; err != nil {
			return fmt.Errorf("save file slot: %w", err)
		}

		app.Status = application.StatusDraft
		switch app.AnalysisStatus {
		case application.AnalysisProcessing:
			// 输入已变化，进行中的分析结果作废。
			app.AnalysisEpoch++
			app.AnalysisStatus = application.AnalysisPending
		case application.AnalysisFailed:
			app.AnalysisStatus = application.AnalysisPending
		}
		app.AnalysisError = ""
		ch.detail = string(slot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// invalidate 使当前分析失效并把申请退回可编辑状态。
func (s *Service) invalidate(tx *gorm.DB, app *database.JobApplication) error {
	if err := tx.Where("application_id = ?", app.ID).Delete(&database.ApplicationAnalysis{}).Error; err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	app.Status = app.Status.Demoted()
	app.AnalysisStatus = application.AnalysisPending
	app.AnalysisError = ""
	app.AnalysisEpoch++
	app.SubmittedAt = nil
	return nil
}

// ReplaceFile 删除某个槽位的文件和现有分析，申请回到 draft。
func (s *Service) ReplaceFile(ctx context.Context, id string, slot application.FileType) (*database.JobApplication, error) {
	slot, err := application.ParseFileType(string(slot))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSlot, err)
	}
	return s.mutate(ctx, id, OpReplaceFile, func(tx *gorm.DB, app *database.JobApplication, ch *change) error {
		var file database.ApplicationFile
		err := tx.Where("application_id = ? AND file_type = ?", app.ID, slot).First(&file).Error
		switch {
		case err == nil:
			if err := tx.Delete(&file).Error; err != nil {
				return fmt.Errorf("delete file slot: %w", err)
			}
			ch.removed = append(ch.removed, file.ObjectKey)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("load file slot: %w", err)
		}
		ch.detail = string(slot)
		return s.invalidate(tx, app)
	})
}

// ReplaceAll 保留已上传文件，只清除分析并退回 draft，便于重新分析。
func (s *Service) ReplaceAll(ctx context.Context, id string) (*database.JobApplication, error) {
	return s.mutate(ctx, id, OpReplaceAll, func(tx *gorm.DB, app *database.JobApplication, _ *change) error {
		return s.invalidate(tx, app)
	})
}

// Submit 提交已完成分析的申请。
func (s *Service) Submit(ctx context.Context, id string) (*database.JobApplication, error) {
	return s.mutate(ctx, id, OpSubmit, func(_ *gorm.DB, app *database.JobApplication, _ *change) error {
		if app.Status != application.StatusAnalyzed || app.AnalysisStatus != application.AnalysisCompleted {
			return fmt.Errorf("%w: status %s, analysis %s", ErrNotReadyToSubmit, app.Status, app.AnalysisStatus)
		}
		now := s.now()
		app.Status = application.StatusSubmitted
		app.SubmittedAt = &now
		return nil
	})
}

// RecordDecision 记录雇主对已提交申请的结论，同一雇主再次记录时覆盖。
func (s *Service) RecordDecision(ctx context.Context, id, employerID string, decision application.Decision, note string) (*database.EmployerDecision, error) {
	decision, err := application.ParseDecision(string(decision))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDecision, err)
	}
	employerID = strings.TrimSpace(employerID)
	if employerID == "" {
		return nil, fmt.Errorf("%w: employer id is required", ErrInvalidDecision)
	}

	var (
		app    database.JobApplication
		saved  database.EmployerDecision
		record database.ApplicationEvent
	)
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Where("id = ?", id).First(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load application %s: %w", id, err)
		}
		if app.Status != application.StatusSubmitted {
			return ErrApplicationNotSubmitted
		}

		row := database.EmployerDecision{
			ID:             uuid.NewString(),
			EmployerUserID: employerID,
			ApplicationID:  app.ID,
			Decision:       decision,
			Note:           note,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "employer_user_id"}, {Name: "application_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"decision", "note", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert decision: %w", err)
		}
		if err := tx.Where("employer_user_id = ? AND application_id = ?", employerID, app.ID).First(&saved).Error; err != nil {
			return fmt.Errorf("reload decision: %w", err)
		}

		record = database.ApplicationEvent{
			ApplicationID:  app.ID,
			Operation:      OpRecordDecision,
			FromStatus:     app.Status,
			ToStatus:       app.Status,
			AnalysisStatus: app.AnalysisStatus,
			Detail:         fmt.Sprintf("%s:%s", employerID, decision),
			CreatedAt:      now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveTransition(OpRecordDecision, string(app.Status), string(app.Status))
	log := s.logger.With(slog.String("application_id", app.ID), slog.String("operation", OpRecordDecision))
	log.Info("employer decision recorded", slog.String("employer_id", employerID), slog.String("decision", string(decision)))
	s.publish(ctx, log, events.Event{
		ApplicationID:  app.ID,
		Operation:      OpRecordDecision,
		Status:         string(app.Status),
		AnalysisStatus: string(app.AnalysisStatus),
		AnalysisCount:  app.AnalysisCount,
		Detail:         string(decision),
		At:             now,
	})
	return &saved, nil
}
