package game

// Document field names.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldImageURL     = "imageUrl"
	FieldDeveloper    = "developer"
	FieldEditor       = "editor"
	FieldRead         = "read"
	FieldLegacyStatus = "status"
)

// Display labels for the read flag. They are also the values of the legacy
// string encoding.
const (
	StatusNew  = "Nouveau"
	StatusRead = "Lu"
)

// Record is one game as materialized from the remote collection.
//
// ID is assigned by the remote store when the document is created and never
// changes afterwards. Only Read is ever mutated by this module.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Developer   string `json:"developer"`
	Editor      string `json:"editor"`
	Read        bool   `json:"read"`
}

// Status returns the display label for the read flag.
func (r Record) Status() string {
	return StatusLabel(r.Read)
}

// StatusLabel maps a read flag onto its display label.
func StatusLabel(read bool) string {
	if read {
		return StatusRead
	}
	return StatusNew
}

// Fields returns the canonical document representation of r, without the ID.
// Used when creating documents.
func (r Record) Fields() map[string]any {
	return map[string]any{
		FieldTitle:       r.Title,
		FieldDescription: r.Description,
		FieldImageURL:    r.ImageURL,
		FieldDeveloper:   r.Developer,
		FieldEditor:      r.Editor,
		FieldRead:        r.Read,
	}
}
