package scoring

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/supportdesk/assignment/internal/models"
)

type LevelBonus struct {
	Expert       float64 `yaml:"expert"`
	Intermediate float64 `yaml:"intermediate"`
	Basic        float64 `yaml:"basic"`
}

func (b LevelBonus) For(level models.ExpertiseLevel) float64 {
	switch level {
	case models.ExpertiseExpert:
		return b.Expert
	case models.ExpertiseIntermediate:
		return b.Intermediate
	case models.ExpertiseBasic:
		return b.Basic
	default:
		return 0
	}
}

type NeutralPerformance struct {
	ResolutionRate         float64 `yaml:"resolution_rate"`
	SatisfactionScore      float64 `yaml:"satisfaction_score"`
	AvgResolutionTimeHours float64 `yaml:"avg_resolution_time_hours"`
}

type AvailabilityScores struct {
	Available float64 `yaml:"available"`
	Busy      float64 `yaml:"busy"`
	Away      float64 `yaml:"away"`
	Offline   float64 `yaml:"offline"`
}

// Weights holds every tunable of the scoring model.
type Weights struct {
	Workload     float64 `yaml:"workload"`
	Performance  float64 `yaml:"performance"`
	Availability float64 `yaml:"availability"`

	SubcategoryBonus LevelBonus `yaml:"subcategory_bonus"`
	// CategoryFactor scales SubcategoryBonus for a category-only match.
	CategoryFactor float64 `yaml:"category_factor"`

	Neutral            NeutralPerformance `yaml:"neutral"`
	BaselineHours      float64            `yaml:"baseline_hours"`
	MaxSatisfaction    float64            `yaml:"max_satisfaction"`
	AvailabilityScores AvailabilityScores `yaml:"availability_scores"`
}

func DefaultWeights() Weights {
	return Weights{
		Workload:     0.4,
		Performance:  0.3,
		Availability: 0.3,
		SubcategoryBonus: LevelBonus{
			Expert:       0.15,
			Intermediate: 0.08,
			Basic:        0.03,
		},
		CategoryFactor: 0.5,
		Neutral: NeutralPerformance{
			ResolutionRate:         0.7,
			SatisfactionScore:      3.5,
			AvgResolutionTimeHours: 24,
		},
		BaselineHours:   48,
		MaxSatisfaction: 5,
		AvailabilityScores: AvailabilityScores{
			Available: 1.0,
			Busy:      0.5,
			Away:      0.2,
			Offline:   0,
		},
	}
}

func (w Weights) Validate() error {
	var errs []error
	if w.Workload < 0 || w.Performance < 0 || w.Availability < 0 {
		errs = append(errs, errors.New("component weights must be non-negative"))
	}
	if w.Workload+w.Performance+w.Availability <= 0 {
		errs = append(errs, errors.New("component weights must not all be zero"))
	}
	if w.BaselineHours <= 0 {
		errs = append(errs, errors.New("baseline_hours must be positive"))
	}
	if w.MaxSatisfaction <= 0 {
		errs = append(errs, errors.New("max_satisfaction must be positive"))
	}
	if w.CategoryFactor < 0 || w.CategoryFactor > 1 {
		errs = append(errs, errors.New("category_factor must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// LoadWeights reads a YAML file on top of DefaultWeights. Keys missing
// from the file keep their default values. An empty path returns the
// defaults.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	if path == "" {
		return w, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read scoring file: %w", err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("parse scoring file: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, fmt.Errorf("invalid scoring file: %w", err)
	}
	return w, nil
}
