package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultCollection is the collection policy documents are ingested into.
const DefaultCollection = "company_policies"

// DefaultDocuments returns the built-in refund and warranty policies.
func DefaultDocuments() []Document {
	texts := []string{
		"Full refunds are only allowed if the item is 'lost_in_transit' or 'totally_destroyed'.",
		"Cosmetic damage (scratches/dents) is NOT eligible for a full refund.",
		"For cosmetic damage, a maximum of 10% partial refund is allowed. The customer must provide a photo.",
		"All refund requests must be made within 30 days of delivery.",
		"Electronics have a 1-year warranty for functional defects.",
	}
	docs := make([]Document, len(texts))
	for i, t := range texts {
		docs[i] = Document{ID: fmt.Sprintf("policy_%d", i), Text: t, Topic: "refund_policy"}
	}
	return docs
}

type documentsFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadDocumentsFile reads policy documents from a YAML file:
//
//	documents:
//	  - id: policy_0
//	    topic: refund_policy
//	    text: Full refunds are only allowed if ...
func LoadDocumentsFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents file: %w", err)
	}

	var f documentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse documents file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Documents))
	for i, d := range f.Documents {
		if d.Text == "" {
			return nil, fmt.Errorf("document %d has no text", i)
		}
		if d.ID == "" {
			f.Documents[i].ID = fmt.Sprintf("policy_%d", i)
		}
		if _, dup := seen[f.Documents[i].ID]; dup {
			return nil, fmt.Errorf("duplicate document id %q", f.Documents[i].ID)
		}
		seen[f.Documents[i].ID] = struct{}{}
	}
	return f.Documents, nil
}
