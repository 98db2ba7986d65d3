// Package ragconfig holds the retrieval configuration shared by chunking,
// ingest and search, with validation, diffing and pluggable persistence.
package ragconfig

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hyperjump/tebiki/internal/models"
)

// RagConfig is the process-wide retrieval configuration. It is passed by
// value into each component call; nothing reads it from global state.
type RagConfig struct {
	EmbedDim            int     `json:"embedDim" validate:"min=1,max=4096"`
	ChunkSize           int     `json:"chunkSize" validate:"min=100,max=2000"`
	ChunkOverlap        int     `json:"chunkOverlap" validate:"min=0,max=500,ltfield=ChunkSize"`
	RetrieveK           int     `json:"retrieveK" validate:"min=1,max=50"`
	RerankTop           int     `json:"rerankTop" validate:"min=1,max=20"`
	RerankMin           float64 `json:"rerankMin" validate:"min=0,max=1"`
	MaxTextLength       int     `json:"maxTextLength" validate:"min=1000,max=1000000"`
	BatchSize           int     `json:"batchSize" validate:"min=1,max=20"`
	SimilarityThreshold float64 `json:"similarityThreshold" validate:"min=0,max=1"`
}

// Defaults returns the hard-coded configuration used when nothing valid is persisted.
func Defaults() RagConfig {
	return RagConfig{
		EmbedDim:            1536,
		ChunkSize:           800,
		ChunkOverlap:        80,
		RetrieveK:           8,
		RerankTop:           3,
		RerankMin:           0.25,
		MaxTextLength:       100000,
		BatchSize:           5,
		SimilarityThreshold: 0.7,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	EmbedDim            *int     `json:"embedDim,omitempty"`
	ChunkSize           *int     `json:"chunkSize,omitempty"`
	ChunkOverlap        *int     `json:"chunkOverlap,omitempty"`
	RetrieveK           *int     `json:"retrieveK,omitempty"`
	RerankTop           *int     `json:"rerankTop,omitempty"`
	RerankMin           *float64 `json:"rerankMin,omitempty"`
	MaxTextLength       *int     `json:"maxTextLength,omitempty"`
	BatchSize           *int     `json:"batchSize,omitempty"`
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
}

// PatchOf returns a patch that sets every field to cfg's values.
func PatchOf(cfg RagConfig) Patch {
	return Patch{
		EmbedDim:            &cfg.EmbedDim,
		ChunkSize:           &cfg.ChunkSize,
		ChunkOverlap:        &cfg.ChunkOverlap,
		RetrieveK:           &cfg.RetrieveK,
		RerankTop:           &cfg.RerankTop,
		RerankMin:           &cfg.RerankMin,
		MaxTextLength:       &cfg.MaxTextLength,
		BatchSize:           &cfg.BatchSize,
		SimilarityThreshold: &cfg.SimilarityThreshold,
	}
}

// Apply returns a copy of c with the non-nil fields of p merged in.
func (c RagConfig) Apply(p Patch) RagConfig {
	if p.EmbedDim != nil {
		c.EmbedDim = *p.EmbedDim
	}
	if p.ChunkSize != nil {
		c.ChunkSize = *p.ChunkSize
	}
	if p.ChunkOverlap != nil {
		c.ChunkOverlap = *p.ChunkOverlap
	}
	if p.RetrieveK != nil {
		c.RetrieveK = *p.RetrieveK
	}
	if p.RerankTop != nil {
		c.RerankTop = *p.RerankTop
	}
	if p.RerankMin != nil {
		c.RerankMin = *p.RerankMin
	}
	if p.MaxTextLength != nil {
		c.MaxTextLength = *p.MaxTextLength
	}
	if p.BatchSize != nil {
		c.BatchSize = *p.BatchSize
	}
	if p.SimilarityThreshold != nil {
		c.SimilarityThreshold = *p.SimilarityThreshold
	}
	return c
}

// field describes one RagConfig field for messages and diffs, in declaration order.
type field struct {
	name     string
	min, max float64
	get      func(RagConfig) float64
	isFloat  bool
}

var fields = []field{
	{"embedDim", 1, 4096, func(c RagConfig) float64 { return float64(c.EmbedDim) }, false},
	{"chunkSize", 100, 2000, func(c RagConfig) float64 { return float64(c.ChunkSize) }, false},
	{"chunkOverlap", 0, 500, func(c RagConfig) float64 { return float64(c.ChunkOverlap) }, false},
	{"retrieveK", 1, 50, func(c RagConfig) float64 { return float64(c.RetrieveK) }, false},
	{"rerankTop", 1, 20, func(c RagConfig) float64 { return float64(c.RerankTop) }, false},
	{"rerankMin", 0, 1, func(c RagConfig) float64 { return c.RerankMin }, true},
	{"maxTextLength", 1000, 1000000, func(c RagConfig) float64 { return float64(c.MaxTextLength) }, false},
	{"batchSize", 1, 20, func(c RagConfig) float64 { return float64(c.BatchSize) }, false},
	{"similarityThreshold", 0, 1, func(c RagConfig) float64 { return c.SimilarityThreshold }, true},
}

func fieldByName(name string) (field, bool) {
	for _, f := range fields {
		if f.name == name {
			return f, true
		}
	}
	return field{}, false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name := strings.SplitN(sf.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field against its declared range and requires
// chunkOverlap < chunkSize. It returns a *models.ValidationError listing
// one message per offending field.
func (c RagConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate rag config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return models.NewValidationError(msgs...)
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	if fe.Tag() == "ltfield" {
		return fmt.Sprintf("%s: must be less than chunkSize", name)
	}
	if f, ok := fieldByName(name); ok {
		return fmt.Sprintf("%s: must be between %s and %s", name, formatNumber(f.min, f.isFloat), formatNumber(f.max, f.isFloat))
	}
	return fmt.Sprintf("%s: failed %s validation", name, fe.Tag())
}

// Diff returns one "field: old → new" line per field of p that differs from current.
// Fields absent from p are never reported.
func Diff(current RagConfig, p Patch) []string {
	merged := current.Apply(p)
	set := presentFields(p)
	changes := []string{}
	for _, f := range fields {
		if !set[f.name] {
			continue
		}
		before, after := f.get(current), f.get(merged)
		if before != after {
			changes = append(changes, fmt.Sprintf("%s: %s → %s", f.name, formatNumber(before, f.isFloat), formatNumber(after, f.isFloat)))
		}
	}
	return changes
}

func presentFields(p Patch) map[string]bool {
	return map[string]bool{
		"embedDim":            p.EmbedDim != nil,
		"chunkSize":           p.ChunkSize != nil,
		"chunkOverlap":        p.ChunkOverlap != nil,
		"retrieveK":           p.RetrieveK != nil,
		"rerankTop":           p.RerankTop != nil,
		"rerankMin":           p.RerankMin != nil,
		"maxTextLength":       p.MaxTextLength != nil,
		"batchSize":           p.BatchSize != nil,
		"similarityThreshold": p.SimilarityThreshold != nil,
	}
}

func formatNumber(v float64, isFloat bool) string {
	if !isFloat {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
