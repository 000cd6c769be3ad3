package services

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

type surveyFile struct {
	Default string          `yaml:"default"`
	Surveys []models.Survey `yaml:"surveys"`
}

// SurveyCatalog holds the questionnaires a call can run. It is read-only after
// loading and safe to share.
type SurveyCatalog struct {
	surveys map[string]models.Survey
	def     string
}

// LoadSurveys reads the survey file. defaultID overrides the file's default.
func LoadSurveys(path, defaultID string) (*SurveyCatalog, error) {
	const op = "SurveyCatalog.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "failed to read survey file", err)
	}
	return ParseSurveys(data, defaultID)
}

func ParseSurveys(data []byte, defaultID string) (*SurveyCatalog, error) {
	const op = "SurveyCatalog.Parse"
	var f surveyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "failed to parse survey file", err)
	}
	if defaultID != "" {
		f.Default = defaultID
	}
	return NewSurveyCatalog(f.Default, f.Surveys...)
}

func NewSurveyCatalog(defaultID string, surveys ...models.Survey) (*SurveyCatalog, error) {
	const op = "SurveyCatalog.New"
	c := &SurveyCatalog{surveys: make(map[string]models.Survey, len(surveys)), def: defaultID}
	for _, s := range surveys {
		s, err := normalizeSurvey(s)
		if err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
		}
		if _, dup := c.surveys[s.ID]; dup {
			return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("duplicate survey id %q", s.ID), nil)
		}
		c.surveys[s.ID] = s
	}
	if len(c.surveys) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "no surveys defined", nil)
	}
	if c.def == "" && len(c.surveys) == 1 {
		for id := range c.surveys {
			c.def = id
		}
	}
	if _, ok := c.surveys[c.def]; !ok {
		return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("default survey %q not defined", c.def), nil)
	}
	return c, nil
}

// Get returns the survey by id; an empty id selects the default.
func (c *SurveyCatalog) Get(id string) (models.Survey, error) {
	const op = "SurveyCatalog.Get"
	if id == "" {
		id = c.def
	}
	s, ok := c.surveys[id]
	if !ok {
		return models.Survey{}, utils.E(utils.CodeNotFound, op, fmt.Sprintf("survey %q not found", id), nil)
	}
	qs := make([]models.QuestionSpec, len(s.Questions))
	copy(qs, s.Questions)
	s.Questions = qs
	return s, nil
}

func (c *SurveyCatalog) DefaultID() string { return c.def }

func (c *SurveyCatalog) IDs() []string {
	ids := make([]string, 0, len(c.surveys))
	for id := range c.surveys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PromptTexts lists every fixed text of every survey, for cache warmup.
func (c *SurveyCatalog) PromptTexts() map[string][]string {
	out := make(map[string][]string)
	for _, s := range c.surveys {
		texts := []string{s.Greeting, s.Clarify, s.Fallback, s.Closing}
		for _, q := range s.Questions {
			texts = append(texts, q.Text)
		}
		out[s.Language] = append(out[s.Language], texts...)
	}
	return out
}

func normalizeSurvey(s models.Survey) (models.Survey, error) {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return s, fmt.Errorf("survey id is required")
	}
	seen := make(map[int]bool, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i]
		if q.Order == 0 {
			q.Order = i + 1
		}
		if seen[q.Order] {
			return s, fmt.Errorf("survey %q: duplicate question order %d", s.ID, q.Order)
		}
		seen[q.Order] = true
		if strings.TrimSpace(q.Text) == "" {
			return s, fmt.Errorf("survey %q: question %d has no text", s.ID, q.Order)
		}
		if q.PauseSeconds != 0 && (q.PauseSeconds < models.MinPauseUnits || q.PauseSeconds > models.MaxPauseUnits) {
			return s, fmt.Errorf("survey %q: question %d pause must be %d..%d", s.ID, q.Order, models.MinPauseUnits, models.MaxPauseUnits)
		}
		switch q.Kind {
		case "":
			q.Kind = models.KindBinary
		case models.KindBinary, models.KindScale:
		default:
			return s, fmt.Errorf("survey %q: question %d has unknown kind %q", s.ID, q.Order, q.Kind)
		}
		if q.Kind == models.KindScale {
			q.ScaleMin, q.ScaleMax = q.ScaleBounds()
		}
	}
	sort.SliceStable(s.Questions, func(a, b int) bool { return s.Questions[a].Order < s.Questions[b].Order })
	return s, nil
}
