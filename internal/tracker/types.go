// Package tracker holds the domain types of the external task-tracking
// platform and an HTTP connector for its REST API.
package tracker

import "encoding/json"

// Task is the snapshot delivered by a tracker webhook event.
type Task struct {
	ID          int64        `json:"id"`
	IsClosed    bool         `json:"is_closed"`
	FormID      int64        `json:"form_id"`
	Comments    []Comment    `json:"comments"`
	Attachments []Attachment `json:"attachments"`
	Fields      []Field      `json:"fields"`
}

// LastComment returns the most recent comment, or nil when there are none.
func (t *Task) LastComment() *Comment {
	if len(t.Comments) == 0 {
		return nil
	}
	return &t.Comments[len(t.Comments)-1]
}

// LastAttachment returns the most recent attachment, or nil when there are none.
func (t *Task) LastAttachment() *Attachment {
	if len(t.Attachments) == 0 {
		return nil
	}
	return &t.Attachments[len(t.Attachments)-1]
}

// Comment is one entry of a task's comment feed.
type Comment struct {
	Text    string  `json:"text"`
	Author  Author  `json:"author"`
	Channel Channel `json:"channel"`
}

// Author identifies who wrote a comment. A non-empty Position marks an
// internal staff member rather than the customer.
type Author struct {
	Position string `json:"position"`
}

// IsStaff reports whether the author carries the internal staff marker.
func (a Author) IsStaff() bool {
	return a.Position != ""
}

// Channel is the delivery surface a comment arrived on.
type Channel struct {
	Type string `json:"type"`
}

// Attachment is a file attached to a task.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Field is a form field of a task. Value stays raw because its shape
// depends on the field type (text, catalog item, nested group).
type Field struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name,omitempty"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// GroupValue is the decoded value of a grouped (title) field.
type GroupValue struct {
	Fields []Field `json:"fields"`
}

// CatalogValue is the decoded value of a catalog field.
type CatalogValue struct {
	ItemID int64 `json:"item_id"`
}

// FieldUpdate is one field write sent back to the tracker.
type FieldUpdate struct {
	ID    int64       `json:"id"`
	Value interface{} `json:"value"`
}

// CatalogRef binds a field to a catalog item.
type CatalogRef struct {
	ItemID int64 `json:"item_id"`
}

// CardRef binds a field to another task (a card).
type CardRef struct {
	TaskID int64 `json:"task_id"`
}

// SelectValue is a named-choice field value.
type SelectValue struct {
	ItemName string `json:"item_name"`
}

// CatalogItem is one row of a tracker catalog.
type CatalogItem struct {
	ItemID int64    `json:"item_id"`
	Values []string `json:"values"`
}

// Catalog is a tracker dictionary.
type Catalog struct {
	Items []CatalogItem `json:"items"`
}

// RegisterTask is one row of a form register listing.
type RegisterTask struct {
	ID     int64   `json:"id"`
	Fields []Field `json:"fields"`
}

// FieldValueString renders a register field value for the flattened
// registry. String values come back verbatim, anything else as JSON.
func FieldValueString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
