package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Repository persists the last saved configuration.
type Repository interface {
	Load() (*Config, error)
	Save(cfg Config) error
}

// Store is the mutable configuration of one session. Mutations never touch
// the conversation; they bump Version so the bound remote session is rebuilt
// before the next call. Not safe for concurrent use.
type Store struct {
	cfg     Config
	version uint64
	repo    Repository
}

// NewStore validates defaults and, when repo holds a saved configuration,
// starts from that instead.
func NewStore(defaults Config, repo Repository) (*Store, error) {
	cfg := defaults.Clone()
	if cfg.SafetyThresholds == nil {
		cfg.SafetyThresholds = make(map[HarmCategory]Threshold)
	}
	if repo != nil {
		saved, err := repo.Load()
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if saved != nil {
			if err := saved.Validate(); err != nil {
				return nil, fmt.Errorf("saved settings: %w", err)
			}
			cfg = saved.Clone()
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, version: 1, repo: repo}, nil
}

// Version increases by one on every successful mutation.
func (s *Store) Version() uint64 { return s.version }

// Config returns a deep copy of the current settings.
func (s *Store) Config() Config { return s.cfg.Clone() }

func (s *Store) ModelName() string { return s.cfg.ModelName }
func (s *Store) SystemInstruction() string { return s.cfg.SystemInstruction }
func (s *Store) Temperature() float32 { return s.cfg.Temperature }
func (s *Store) TopP() float32 { return s.cfg.TopP }
func (s *Store) TopK() int32 { return s.cfg.TopK }
func (s *Store) MaxOutputTokens() int32 { return s.cfg.MaxOutputTokens }
func (s *Store) SafetyThreshold(c HarmCategory) Threshold {
	return s.cfg.SafetyThresholds[c]
}

func (s *Store) SetModelName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyModel
	}
	return s.commit(func(c *Config) { c.ModelName = name })
}

func (s *Store) SetSystemInstruction(text string) error {
	return s.commit(func(c *Config) { c.SystemInstruction = text })
}

func (s *Store) SetTemperature(v float32) error {
	if err := checkTemperature(v); err != nil {
		return err
	}
	return s.commit(func(c *Config) { c.Temperature = v })
}

func (s *Store) SetTopP(v float32) error {
	if err := checkTopP(v); err != nil {
		return err
	}
	return s.commit(func(c *Config) { c.TopP = v })
}

func (s *Store) SetTopK(v int32) error {
	if err := checkTopK(v); err != nil {
		return err
	}
	return s.commit(func(c *Config) { c.TopK = v })
}

func (s *Store) SetMaxOutputTokens(v int32) error {
	if err := checkMaxOutputTokens(v); err != nil {
		return err
	}
	return s.commit(func(c *Config) { c.MaxOutputTokens = v })
}

func (s *Store) SetSafetyThreshold(cat HarmCategory, t Threshold) error {
	if !cat.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownThreshold, t)
	}
	return s.commit(func(c *Config) { c.SafetyThresholds[cat] = t })
}

// SetField applies a textual "name value" setting as typed by a user.
func (s *Store) SetField(name, raw string) error {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "model", "model_name":
		return s.SetModelName(raw)
	case "system", "system_instruction":
		return s.SetSystemInstruction(raw)
	case "temperature", "temp":
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return fmt.Errorf("temperature: %w", err)
		}
		return s.SetTemperature(float32(v))
	case "top_p":
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return fmt.Errorf("top_p: %w", err)
		}
		return s.SetTopP(float32(v))
	case "top_k":
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("top_k: %w", err)
		}
		return s.SetTopK(int32(v))
	case "max_output_tokens", "max_tokens":
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("max_output_tokens: %w", err)
		}
		return s.SetMaxOutputTokens(int32(v))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
}

// ParseCategory accepts both "HARM_CATEGORY_HATE_SPEECH" and "hate_speech".
func ParseCategory(s string) (HarmCategory, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(u, "HARM_CATEGORY_") {
		u = "HARM_CATEGORY_" + u
	}
	c := HarmCategory(u)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownCategory, s)
	}
	return c, nil
}

func ParseThreshold(s string) (Threshold, error) {
	t := Threshold(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownThreshold, s)
	}
	return t, nil
}

func (s *Store) commit(mutate func(c *Config)) error {
	next := s.cfg.Clone()
	mutate(&next)
	if s.repo != nil {
		if err := s.repo.Save(next); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	s.cfg = next
	s.version++
	return nil
}

// Describe renders the settings for display.
func (c Config) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model: %s\n", c.ModelName)
	fmt.Fprintf(&b, "temperature: %.2f\ntop_p: %.2f\ntop_k: %d\nmax_output_tokens: %d\n",
		c.Temperature, c.TopP, c.TopK, c.MaxOutputTokens)
	b.WriteString("safety:\n")
	for _, cat := range c.SortedCategories() {
		fmt.Fprintf(&b, "  %s: %s\n", strings.TrimPrefix(string(cat), "HARM_CATEGORY_"), c.SafetyThresholds[cat])
	}
	fmt.Fprintf(&b, "system instruction:\n%s\n", c.SystemInstruction)
	return b.String()
}
