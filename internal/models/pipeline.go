package models

// Role of an authenticated principal.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Principal is the result of a successful authorization check.
type Principal struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IngestRequest is the immutable input of one pipeline run. Cancellation is
// carried by the context passed alongside it.
type IngestRequest struct {
	Type       DocumentType `json:"type" validate:"required,oneof=lecture exam assignment"`
	RecordID   string       `json:"recordId,omitempty" validate:"omitempty,uuid"`
	CourseID   string       `json:"courseId,omitempty" validate:"omitempty,max=64"`
	Title      string       `json:"title,omitempty" validate:"max=255"`
	Filename   string       `json:"filename" validate:"max=255"`
	HasAnswers bool         `json:"hasAnswers"`
	AuthToken  string       `json:"-"`
	// SourceKey is set when the upload is already archived in object storage.
	SourceKey string `json:"sourceKey,omitempty"`
	File      []byte `json:"-"`
}
