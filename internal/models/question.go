package models

// QuestionKind selects how an answer is classified.
type QuestionKind string

const (
	KindBinary QuestionKind = "binary"
	KindScale  QuestionKind = "scale"
)

const (
	MinPauseUnits = 1
	MaxPauseUnits = 20
)

type QuestionSpec struct {
	Order        int          `yaml:"order" json:"order"`
	Text         string       `yaml:"text" json:"text"`
	PauseSeconds int          `yaml:"pause_seconds" json:"pause_seconds"` // 1..20 time units, 0 = default
	Kind         QuestionKind `yaml:"kind" json:"kind"`
	ScaleMin     int          `yaml:"scale_min" json:"scale_min,omitempty"`
	ScaleMax     int          `yaml:"scale_max" json:"scale_max,omitempty"`
	Accepted     []Category   `yaml:"accepted" json:"accepted,omitempty"`
}

// AcceptedCategories returns the configured accepted set, or the kind's default.
func (q QuestionSpec) AcceptedCategories() []Category {
	if len(q.Accepted) > 0 {
		return q.Accepted
	}
	if q.Kind == KindScale {
		return []Category{CategoryNumericScale, CategoryUncertain}
	}
	return []Category{CategoryYes, CategoryNo, CategoryUncertain}
}

func (q QuestionSpec) Accepts(c Category) bool {
	for _, a := range q.AcceptedCategories() {
		if a == c {
			return true
		}
	}
	return false
}

// ScaleBounds returns the inclusive numeric range for scale questions (default 1..5).
func (q QuestionSpec) ScaleBounds() (int, int) {
	lo, hi := q.ScaleMin, q.ScaleMax
	if lo == 0 && hi == 0 {
		return 1, 5
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Survey is one questionnaire as loaded from the survey file.
type Survey struct {
	ID        string         `yaml:"id" json:"id"`
	Language  string         `yaml:"language" json:"language"`
	Greeting  string         `yaml:"greeting" json:"greeting"`
	Clarify   string         `yaml:"clarify" json:"clarify"`
	Fallback  string         `yaml:"fallback" json:"fallback"`
	Closing   string         `yaml:"closing" json:"closing"`
	Questions []QuestionSpec `yaml:"questions" json:"questions"`
}
