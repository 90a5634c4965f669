// Package catalogxml reads and writes the catalog index and metadata
// documents carried inside cabinet archives. Both directions stream: the
// writer emits one Update element at a time and the reader decodes one
// element at a time, so document size does not affect memory use.
package catalogxml

import "time"

// TimeLayout is the timestamp format used by the catalog documents.
const TimeLayout = "2006-01-02T15:04:05"

// Update is the wire representation of one update entry in an index
// document. Optional fields are omitted entirely when empty rather than
// emitted as empty tags.
type Update struct {
	UpdateID           string
	Title              string
	Description        string
	Classification     string
	Product            string
	ProductFamily      string
	KBArticleID        string
	SecurityBulletinID string
	MsrcSeverity       string
	OsVersion          string
	ReleaseDate        *time.Time
	LastModified       *time.Time
	Categories         []string
	SupersededBy       []string
}
