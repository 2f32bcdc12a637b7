package record

// AssetPatch is a sparse edit against an asset link. Nil fields are untouched.
// The staged pending patch on a link is the merge of every unsynced edit.
type AssetPatch struct {
	Name            *string           `json:"name,omitempty"`
	Notes           *string           `json:"notes,omitempty"`
	Visible         *bool             `json:"visible,omitempty"`
	SearchMode      *bool             `json:"searchMode,omitempty"`
	Status          *string           `json:"status,omitempty"`
	ConditionRating *int              `json:"conditionRating,omitempty"`
	Description     *string           `json:"description,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// IsZero reports whether the patch carries no edits.
func (p AssetPatch) IsZero() bool {
	return p.Name == nil &&
		p.Notes == nil &&
		p.Visible == nil &&
		p.SearchMode == nil &&
		p.Status == nil &&
		p.ConditionRating == nil &&
		p.Description == nil &&
		len(p.Attributes) == 0
}

// Merge overlays a later patch onto this one. For every field the later edit wins;
// attribute maps merge key-wise with the later value winning.
func (p AssetPatch) Merge(later AssetPatch) AssetPatch {
	merged := p
	if later.Name != nil {
		merged.Name = later.Name
	}
	if later.Notes != nil {
		merged.Notes = later.Notes
	}
	if later.Visible != nil {
		merged.Visible = later.Visible
	}
	if later.SearchMode != nil {
		merged.SearchMode = later.SearchMode
	}
	if later.Status != nil {
		merged.Status = later.Status
	}
	if later.ConditionRating != nil {
		merged.ConditionRating = later.ConditionRating
	}
	if later.Description != nil {
		merged.Description = later.Description
	}
	if len(later.Attributes) > 0 {
		attributes := make(map[string]string, len(p.Attributes)+len(later.Attributes))
		for key, value := range p.Attributes {
			attributes[key] = value
		}
		for key, value := range later.Attributes {
			attributes[key] = value
		}
		merged.Attributes = attributes
	}
	return merged
}

// ApplyTo writes the patched fields onto an asset link in place.
func (p AssetPatch) ApplyTo(link *AssetLink) error {
	if p.Name != nil {
		link.Name = *p.Name
	}
	if p.Notes != nil {
		link.Notes = *p.Notes
	}
	if p.Visible != nil {
		link.Visible = *p.Visible
	}
	if p.SearchMode != nil {
		link.SearchMode = *p.SearchMode
	}
	if p.Status != nil {
		link.Status = *p.Status
	}
	if p.ConditionRating != nil {
		link.ConditionRating = *p.ConditionRating
	}
	if p.Description != nil {
		link.Description = *p.Description
	}
	if len(p.Attributes) > 0 {
		attributes, err := link.Attributes()
		if err != nil {
			return err
		}
		for key, value := range p.Attributes {
			attributes[key] = value
		}
		if err := link.SetAttributes(attributes); err != nil {
			return err
		}
	}
	return nil
}

// RemoteFields translates the patch to the upstream API's field naming. The
// server predates this client and speaks the German schema.
func (p AssetPatch) RemoteFields() map[string]any {
	fields := map[string]any{}
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Notes != nil {
		fields["bemerkung"] = *p.Notes
	}
	if p.Visible != nil {
		fields["sichtbar"] = *p.Visible
	}
	if p.SearchMode != nil {
		fields["suchmodus"] = *p.SearchMode
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.ConditionRating != nil {
		fields["zustandsbewertung"] = *p.ConditionRating
	}
	if p.Description != nil {
		fields["beschreibung"] = *p.Description
	}
	if len(p.Attributes) > 0 {
		fields["dynamischeFelder"] = p.Attributes
	}
	return fields
}
