package model

import "sort"

// WorkflowOption is one provider-side generation graph the resolver may try.
// Static configuration, read-only at runtime.
type WorkflowOption struct {
	ID           string      `yaml:"id"`
	Name         string      `yaml:"name"`
	Priority     int         `yaml:"priority"`
	Enabled      bool        `yaml:"enabled"`
	TemplateUUID string      `yaml:"template_uuid"`
	WorkflowUUID string      `yaml:"workflow_uuid"`
	Slots        SlotMapping `yaml:"slots"`
	// Extra nodes merged verbatim into the request graph (text encoders,
	// mask settings and the like).
	Extra map[string]GraphNode `yaml:"extra,omitempty"`
}

// SlotMapping names the provider-side graph nodes each logical input feeds.
type SlotMapping struct {
	UserPhoto     []string `yaml:"user_photo"`
	TemplateImage []string `yaml:"template_image"`
}

// GraphNode is one node of the provider's generation graph.
type GraphNode struct {
	ClassType string         `yaml:"class_type" json:"class_type"`
	Inputs    map[string]any `yaml:"inputs" json:"inputs"`
}

// TemplateAsset is a reusable visual asset combined with user input.
type TemplateAsset struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// TemplatePools groups template assets by gender.
type TemplatePools struct {
	Male   []TemplateAsset `yaml:"male"`
	Female []TemplateAsset `yaml:"female"`
}

// ForGender returns the pool matching g. Unspecified genders draw from the
// female pool.
func (p TemplatePools) ForGender(g Gender) []TemplateAsset {
	if g == GenderMale {
		return p.Male
	}
	return p.Female
}

// EnabledWorkflows filters and orders workflows by ascending priority.
// The input slice is not modified.
func EnabledWorkflows(all []WorkflowOption) []WorkflowOption {
	out := make([]WorkflowOption, 0, len(all))
	for _, w := range all {
		if w.Enabled {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
