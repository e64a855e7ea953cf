package analysis

import (
	"context"
	"time"

	"talentflex/internal/application"
)

// StaticEngine returns a fixed report after a delay. It stands in for the real
// scoring service in development and demos.
type StaticEngine struct {
	Delay time.Duration
}

// NewStaticEngine returns a StaticEngine.
func NewStaticEngine(delay time.Duration) *StaticEngine {
	return &StaticEngine{Delay: delay}
}

var staticScores = application.Scorecard{
	application.CategoryVideo: {
		Overall: 8.2,
		Dimensions: map[string]float64{
			application.DimensionCommunication: 8.5,
			application.DimensionClarity:       7.8,
			application.DimensionConfidence:    8.2,
		},
	},
	application.CategoryCV: {
		Overall: 7.6,
		Dimensions: map[string]float64{
			application.DimensionRelevance:       7.5,
			application.DimensionExperienceMatch: 8.0,
			application.DimensionSkillsMatch:     7.2,
		},
	},
	application.CategoryCaseStudy: {
		Overall: 8.4,
		Dimensions: map[string]float64{
			application.DimensionProblemSolving:  8.8,
			application.DimensionAnalyticalDepth: 8.5,
			application.DimensionPresentation:    7.9,
		},
	},
}

// Analyze implements Engine. Only categories backed by a submitted file are scored.
func (e *StaticEngine) Analyze(ctx context.Context, req Request) (*Report, error) {
	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	scores := application.Scorecard{}
	for slot := range req.Slots() {
		category, ok := slot.Category()
		if !ok {
			continue
		}
		score := staticScores[category]
		dims := make(map[string]float64, len(score.Dimensions))
		for k, v := range score.Dimensions {
			dims[k] = v
		}
		scores[category] = application.CategoryScore{Overall: score.Overall, Dimensions: dims}
	}

	return &Report{
		Scores:       scores,
		OverallScore: 78,
		Summary: "Strong candidate with solid relevant experience. Communication is clear and confident, " +
			"and the submitted material shows structured analytical thinking. Minor gaps against the " +
			"posting's requirements, but a strong overall fit for the role.",
		KeyStrengths: []string{
			"Excellent communication and presentation skills",
			"Strong analytical and strategic thinking",
			"Proven track record in the role",
		},
		AreasOfConcern: []string{
			"Limited experience in the posting's exact domain",
			"May need ramp-up time on technical aspects",
		},
	}, nil
}
