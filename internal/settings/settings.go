package settings

import (
	"errors"
	"fmt"
	"sort"
)

// HarmCategory names a safety category in the provider's canonical form.
type HarmCategory string

const (
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

// Categories lists the configurable categories in display order.
var Categories = []HarmCategory{
	HarmCategoryHarassment,
	HarmCategoryHateSpeech,
	HarmCategorySexuallyExplicit,
	HarmCategoryDangerousContent,
}

func (c HarmCategory) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Threshold is the blocking sensitivity for one category.
type Threshold string

const (
	ThresholdUnspecified Threshold = "HARM_BLOCK_THRESHOLD_UNSPECIFIED"
	BlockLowAndAbove     Threshold = "BLOCK_LOW_AND_ABOVE"
	BlockMediumAndAbove  Threshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockOnlyHigh        Threshold = "BLOCK_ONLY_HIGH"
	BlockNone            Threshold = "BLOCK_NONE"
)

var Thresholds = []Threshold{
	ThresholdUnspecified,
	BlockLowAndAbove,
	BlockMediumAndAbove,
	BlockOnlyHigh,
	BlockNone,
}

func (t Threshold) Valid() bool {
	for _, k := range Thresholds {
		if k == t {
			return true
		}
	}
	return false
}

// Range limits for generation parameters.
const (
	MinTemperature     = 0.0
	MaxTemperature     = 1.0
	MinTopP            = 0.0
	MaxTopP            = 1.0
	MinTopK            = 1
	MaxTopK            = 100
	MinMaxOutputTokens = 1
	MaxMaxOutputTokens = 8192
)

var (
	ErrOutOfRange       = errors.New("value out of range")
	ErrEmptyModel       = errors.New("model name is empty")
	ErrUnknownCategory  = errors.New("unknown harm category")
	ErrUnknownThreshold = errors.New("unknown block threshold")
	ErrUnknownField     = errors.New("unknown setting")
)

// RangeError reports a parameter outside its documented range.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s=%v is out of range [%v, %v]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Config is the full set of per-session generation settings.
type Config struct {
	ModelName         string                     `json:"model_name"`
	SystemInstruction string                     `json:"system_instruction"`
	Temperature       float32                    `json:"temperature"`
	TopP              float32                    `json:"top_p"`
	TopK              int32                      `json:"top_k"`
	MaxOutputTokens   int32                      `json:"max_output_tokens"`
	SafetyThresholds  map[HarmCategory]Threshold `json:"safety_thresholds"`
}

// Default returns the settings a session starts with when nothing overrides them.
func Default() Config {
	c := Config{
		ModelName:         "gemini-1.5-pro-latest",
		SystemInstruction: "You are a helpful and friendly AI assistant.",
		Temperature:       0.7,
		TopP:              1.0,
		TopK:              40,
		MaxOutputTokens:   2048,
		SafetyThresholds:  make(map[HarmCategory]Threshold, len(Categories)),
	}
	for _, cat := range Categories {
		c.SafetyThresholds[cat] = BlockNone
	}
	return c
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.SafetyThresholds = make(map[HarmCategory]Threshold, len(c.SafetyThresholds))
	for k, v := range c.SafetyThresholds {
		out.SafetyThresholds[k] = v
	}
	return out
}

// Validate checks every field against its range.
func (c Config) Validate() error {
	if c.ModelName == "" {
		return ErrEmptyModel
	}
	if err := checkTemperature(c.Temperature); err != nil {
		return err
	}
	if err := checkTopP(c.TopP); err != nil {
		return err
	}
	if err := checkTopK(c.TopK); err != nil {
		return err
	}
	if err := checkMaxOutputTokens(c.MaxOutputTokens); err != nil {
		return err
	}
	for cat, t := range c.SafetyThresholds {
		if !cat.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
		}
		if !t.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownThreshold, t)
		}
	}
	return nil
}

func checkTemperature(v float32) error {
	if v != v || v < MinTemperature || v > MaxTemperature {
		return &RangeError{Field: "temperature", Value: float64(v), Min: MinTemperature, Max: MaxTemperature}
	}
	return nil
}

func checkTopP(v float32) error {
	if v != v || v < MinTopP || v > MaxTopP {
		return &RangeError{Field: "top_p", Value: float64(v), Min: MinTopP, Max: MaxTopP}
	}
	return nil
}

func checkTopK(v int32) error {
	if v < MinTopK || v > MaxTopK {
		return &RangeError{Field: "top_k", Value: float64(v), Min: MinTopK, Max: MaxTopK}
	}
	return nil
}

func checkMaxOutputTokens(v int32) error {
	if v < MinMaxOutputTokens || v > MaxMaxOutputTokens {
		return &RangeError{Field: "max_output_tokens", Value: float64(v), Min: MinMaxOutputTokens, Max: MaxMaxOutputTokens}
	}
	return nil
}

// GenerationConfig is the generation part of a request snapshot.
type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	TopK            int32   `json:"top_k"`
	MaxOutputTokens int32   `json:"max_output_tokens"`
}

// Snapshot is the request body recorded in the interaction log for one call.
type Snapshot struct {
	ModelName         string            `json:"model_name"`
	SystemInstruction string            `json:"system_instruction"`
	GenerationConfig  GenerationConfig  `json:"generation_config"`
	SafetySettings    map[string]string `json:"safety_settings"`
}

func (c Config) Snapshot() Snapshot {
	safety := make(map[string]string, len(c.SafetyThresholds))
	for k, v := range c.SafetyThresholds {
		safety[string(k)] = string(v)
	}
	return Snapshot{
		ModelName:         c.ModelName,
		SystemInstruction: c.SystemInstruction,
		GenerationConfig: GenerationConfig{
			Temperature:     c.Temperature,
			TopP:            c.TopP,
			TopK:            c.TopK,
			MaxOutputTokens: c.MaxOutputTokens,
		},
		SafetySettings: safety,
	}
}

// SortedCategories returns the configured categories in stable order.
func (c Config) SortedCategories() []HarmCategory {
	out := make([]HarmCategory, 0, len(c.SafetyThresholds))
	for k := range c.SafetyThresholds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
