package model

import "fmt"

// Field names an editable business field of a notification.
type Field string

const (
	FieldDocketNumber   Field = "docket_number"
	FieldJobName        Field = "job_name"
	FieldProjectManager Field = "project_manager"
	FieldMessage        Field = "message"
)

// AllFields lists the editable fields in display order.
var AllFields = []Field{
	FieldDocketNumber,
	FieldJobName,
	FieldProjectManager,
	FieldMessage,
}

// Label returns the display name of the field.
func (f Field) Label() string {
	switch f {
	case FieldDocketNumber:
		return "Docket"
	case FieldJobName:
		return "Job Name"
	case FieldProjectManager:
		return "Project Manager"
	case FieldMessage:
		return "Message"
	default:
		return string(f)
	}
}

// ParseField converts a field name into a Field.
func ParseField(s string) (Field, error) {
	for _, f := range AllFields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// Fields are the business fields extracted from the mail and shown to
// operators.
type Fields struct {
	DocketNumber   string `json:"docket_number"`
	JobName        string `json:"job_name"`
	ProjectManager string `json:"project_manager"`
	Message        string `json:"message"`
}

// Get returns the value of the named field.
func (f Fields) Get(name Field) string {
	switch name {
	case FieldDocketNumber:
		return f.DocketNumber
	case FieldJobName:
		return f.JobName
	case FieldProjectManager:
		return f.ProjectManager
	case FieldMessage:
		return f.Message
	default:
		return ""
	}
}

// Set overwrites the named field.
func (f *Fields) Set(name Field, value string) error {
	switch name {
	case FieldDocketNumber:
		f.DocketNumber = value
	case FieldJobName:
		f.JobName = value
	case FieldProjectManager:
		f.ProjectManager = value
	case FieldMessage:
		f.Message = value
	default:
		return fmt.Errorf("unknown field %q", name)
	}
	return nil
}

// FieldSet is a small bit set of Fields.
type FieldSet uint8

func fieldBit(f Field) FieldSet {
	for i, name := range AllFields {
		if name == f {
			return 1 << uint(i)
		}
	}
	return 0
}

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	bit := fieldBit(f)
	return bit != 0 && s&bit != 0
}

// With returns the set with f added.
func (s FieldSet) With(f Field) FieldSet {
	return s | fieldBit(f)
}

// Names returns the members of the set in display order.
func (s FieldSet) Names() []Field {
	var out []Field
	for _, f := range AllFields {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
