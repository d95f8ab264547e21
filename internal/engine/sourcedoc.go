package engine

import (
	"encoding/json"
	"fmt"

	"github.com/kestrel-ai/dialectic/internal/store"
)

// DocumentRelationships is the lineage tag on contributions and plan
// payloads. SourceGroup disambiguates which branch of prior work a
// document belongs to when multiple candidate versions exist.
type DocumentRelationships struct {
	SourceGroup string `json:"source_group"`
}

// SourceDocument is a read-only view over a prior contribution, used by
// the planner to decide what input each child job consumes.
type SourceDocument struct {
	ID            string
	FileName      string
	StorageBucket string
	StoragePath   string
	UpdatedAtUnix int64
	Relationships *DocumentRelationships
	TokenEstimate int
}

// SourceDocumentIdentifier extracts the lineage identifier from a
// candidate source document. It is the single extraction function used
// everywhere lineage is needed: a record missing a non-empty
// document_relationships.source_group is a hard error, and nil is
// returned only for non-record inputs.
func SourceDocumentIdentifier(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}

	switch doc := v.(type) {
	case SourceDocument:
		return identifierFromRelationships(doc.ID, doc.Relationships)
	case *SourceDocument:
		if doc == nil {
			return nil, nil
		}
		return identifierFromRelationships(doc.ID, doc.Relationships)
	case store.ContributionRow:
		return identifierFromRaw(doc.ID, doc.DocumentRelationships)
	case *store.ContributionRow:
		if doc == nil {
			return nil, nil
		}
		return identifierFromRaw(doc.ID, doc.DocumentRelationships)
	case map[string]any:
		rel, ok := doc["document_relationships"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("source document missing document_relationships")
		}
		group, _ := rel["source_group"].(string)
		if group == "" {
			return nil, fmt.Errorf("source document has empty document_relationships.source_group")
		}
		return &group, nil
	default:
		// Primitives and other non-record values carry no lineage.
		return nil, nil
	}
}

func identifierFromRelationships(id string, rel *DocumentRelationships) (*string, error) {
	if rel == nil || rel.SourceGroup == "" {
		return nil, fmt.Errorf("source document %s missing document_relationships.source_group", id)
	}
	group := rel.SourceGroup
	return &group, nil
}

func identifierFromRaw(id string, raw json.RawMessage) (*string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("contribution %s missing document_relationships", id)
	}
	var rel DocumentRelationships
	if err := json.Unmarshal(raw, &rel); err != nil {
		return nil, fmt.Errorf("contribution %s has malformed document_relationships: %w", id, err)
	}
	return identifierFromRelationships(id, &rel)
}

// sourceDocFromContribution builds the planner's view over a stored
// contribution row.
func sourceDocFromContribution(row store.ContributionRow) SourceDocument {
	doc := SourceDocument{
		ID:            row.ID,
		FileName:      row.FileName,
		StorageBucket: row.StorageBucket,
		StoragePath:   row.StoragePath,
		UpdatedAtUnix: row.UpdatedAt.Unix(),
		TokenEstimate: row.TokensUsedOutput,
	}
	if len(row.DocumentRelationships) > 0 {
		var rel DocumentRelationships
		if err := json.Unmarshal(row.DocumentRelationships, &rel); err == nil && rel.SourceGroup != "" {
			doc.Relationships = &rel
		}
	}
	return doc
}
