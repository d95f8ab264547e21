package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PayloadMeta is the context common to every payload variant. Children
// must carry exactly their parent's meta; the planner drops candidates
// that do not.
type PayloadMeta struct {
	ProjectID             string `json:"projectId"`
	SessionID             string `json:"sessionId"`
	StageSlug             string `json:"stageSlug"`
	IterationNumber       int    `json:"iterationNumber"`
	WalletID              string `json:"walletId"`
	ContinueUntilComplete bool   `json:"continueUntilComplete,omitempty"`
}

// Matches reports whether two payloads share the same authoritative
// context. ContinueUntilComplete is per-job and not compared.
func (m PayloadMeta) Matches(other PayloadMeta) bool {
	return m.ProjectID == other.ProjectID &&
		m.SessionID == other.SessionID &&
		m.StageSlug == other.StageSlug &&
		m.IterationNumber == other.IterationNumber &&
		m.WalletID == other.WalletID
}

// Payload is one variant of the job payload union.
type Payload interface {
	Type() string
	Meta() PayloadMeta
	Validate() error
}

// PlanPayload expands one recipe step into child jobs.
type PlanPayload struct {
	PayloadMeta
	SelectedModelIDs           []string               `json:"selectedModelIds"`
	StepKey                    string                 `json:"step_key"`
	DocumentRelationships      *DocumentRelationships `json:"document_relationships,omitempty"`
	CompletedSourceDocumentIDs []string               `json:"completedSourceDocumentIds,omitempty"`
}

func (p *PlanPayload) Type() string      { return JobTypePlan }
func (p *PlanPayload) Meta() PayloadMeta { return p.PayloadMeta }
func (p *PlanPayload) Validate() error {
	if len(p.SelectedModelIDs) == 0 {
		return fmt.Errorf("plan payload: no models selected")
	}
	if p.StepKey == "" {
		return fmt.Errorf("plan payload: missing step_key")
	}
	return nil
}

// ExecutePayload performs exactly one model invocation.
type ExecutePayload struct {
	PayloadMeta
	ModelID           string   `json:"model_id"`
	StepKey           string   `json:"step_key,omitempty"`
	DocumentKey       string   `json:"document_key,omitempty"`
	FileName          string   `json:"file_name,omitempty"`
	SourceDocumentIDs []string `json:"source_document_ids,omitempty"`
	RenderedPrompt    string   `json:"renderedPrompt,omitempty"`
	PromptTemplateID  string   `json:"prompt_template_id,omitempty"`

	// Continuation chain. TargetContributionID references the partial
	// artifact this job resumes from.
	TargetContributionID string `json:"target_contribution_id,omitempty"`
	ContinuationCount    int    `json:"continuation_count,omitempty"`
}

func (p *ExecutePayload) Type() string      { return JobTypeExecute }
func (p *ExecutePayload) Meta() PayloadMeta { return p.PayloadMeta }
func (p *ExecutePayload) Validate() error {
	if p.ModelID == "" {
		return fmt.Errorf("execute payload: missing model_id")
	}
	if p.RenderedPrompt == "" && p.PromptTemplateID == "" && p.TargetContributionID == "" {
		return fmt.Errorf("execute payload: missing renderedPrompt or prompt_template_id")
	}
	return nil
}

// RenderPayload assembles a final document from prior contributions.
type RenderPayload struct {
	PayloadMeta
	ModelID               string   `json:"model_id"`
	StepKey               string   `json:"step_key,omitempty"`
	DocumentKey           string   `json:"document_key"`
	SourceContributionIDs []string `json:"source_contribution_ids,omitempty"`
	PromptTemplateID      string   `json:"prompt_template_id,omitempty"`
}

func (p *RenderPayload) Type() string      { return JobTypeRender }
func (p *RenderPayload) Meta() PayloadMeta { return p.PayloadMeta }
func (p *RenderPayload) Validate() error {
	if p.ModelID == "" {
		return fmt.Errorf("render payload: missing model_id")
	}
	if p.DocumentKey == "" {
		return fmt.Errorf("render payload: missing document_key")
	}
	return nil
}

// CombinePayload merges oversized source documents into one synthetic
// input artifact.
type CombinePayload struct {
	PayloadMeta
	ModelID            string        `json:"model_id"`
	StepKey            string        `json:"step_key,omitempty"`
	Inputs             CombineInputs `json:"inputs"`
	PromptTemplateName string        `json:"prompt_template_name"`
}

// CombineInputs names the documents a COMBINE job merges.
type CombineInputs struct {
	DocumentIDs []string `json:"document_ids"`
}

func (p *CombinePayload) Type() string      { return JobTypeCombine }
func (p *CombinePayload) Meta() PayloadMeta { return p.PayloadMeta }
func (p *CombinePayload) Validate() error {
	if p.ModelID == "" {
		return fmt.Errorf("combine payload: missing model_id")
	}
	if len(p.Inputs.DocumentIDs) == 0 {
		return fmt.Errorf("combine payload: no input documents")
	}
	if p.PromptTemplateName == "" {
		return fmt.Errorf("combine payload: missing prompt_template_name")
	}
	return nil
}

// Shape guards run before unmarshaling so a row with the wrong variant
// for its job_type fails loudly at the boundary instead of surfacing as
// zero-valued fields deep in a processor.
var payloadSchemas = map[string]*jsonschema.Schema{
	JobTypePlan: jsonschema.MustCompileString("plan.json", `{
		"type": "object",
		"required": ["sessionId", "stageSlug", "walletId", "selectedModelIds", "step_key"],
		"properties": {
			"selectedModelIds": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"step_key": {"type": "string", "minLength": 1}
		}
	}`),
	JobTypeExecute: jsonschema.MustCompileString("execute.json", `{
		"type": "object",
		"required": ["sessionId", "stageSlug", "walletId", "model_id"],
		"properties": {
			"model_id": {"type": "string", "minLength": 1},
			"continuation_count": {"type": "integer", "minimum": 0}
		}
	}`),
	JobTypeRender: jsonschema.MustCompileString("render.json", `{
		"type": "object",
		"required": ["sessionId", "stageSlug", "walletId", "model_id", "document_key"],
		"properties": {
			"model_id": {"type": "string", "minLength": 1},
			"document_key": {"type": "string", "minLength": 1}
		}
	}`),
	JobTypeCombine: jsonschema.MustCompileString("combine.json", `{
		"type": "object",
		"required": ["sessionId", "stageSlug", "walletId", "model_id", "inputs", "prompt_template_name"],
		"properties": {
			"inputs": {
				"type": "object",
				"required": ["document_ids"],
				"properties": {
					"document_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1}
				}
			}
		}
	}`),
}

// ParsePayload decodes and validates the payload union for the given
// job type. A payload that fails the shape guard or Validate is a
// configuration error, never retried.
func ParsePayload(jobType string, raw json.RawMessage) (Payload, error) {
	schema, ok := payloadSchemas[jobType]
	if !ok {
		return nil, fmt.Errorf("unknown job type: %q", jobType)
	}

	var shape any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("payload for %s job is not valid JSON: %w", jobType, err)
	}
	if err := schema.Validate(shape); err != nil {
		return nil, fmt.Errorf("payload for %s job failed validation: %w", jobType, err)
	}

	var p Payload
	switch jobType {
	case JobTypePlan:
		p = &PlanPayload{}
	case JobTypeExecute:
		p = &ExecutePayload{}
	case JobTypeRender:
		p = &RenderPayload{}
	case JobTypeCombine:
		p = &CombinePayload{}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalPayload serializes a payload for storage in a job row.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Type(), err)
	}
	return data, nil
}
