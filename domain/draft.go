package domain

// Draft is the in-progress state of a create or edit form.
type Draft struct {
	TaskFields
}

// NewDraft starts an edit of t.
func NewDraft(t Task) *Draft {
	return &Draft{TaskFields: t.Fields()}
}

// SetDescription replaces the description unless the new value is too long,
// in which case the previous value is kept.
func (d *Draft) SetDescription(v string) error {
	if err := CheckDescription(v); err != nil {
		return err
	}
	d.Description = v
	return nil
}

// Apply copies every field of f into the draft, going through SetDescription
// for the description.
func (d *Draft) Apply(f TaskFields) error {
	if err := d.SetDescription(f.Description); err != nil {
		return err
	}
	d.Title = f.Title
	d.Category = f.Category
	d.Status = f.Status
	d.DueDate = f.DueDate
	return nil
}
