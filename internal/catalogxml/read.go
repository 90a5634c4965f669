package catalogxml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"
)

// ReadUpdates stream-parses an index or update document, invoking visit for
// each Update element in document order. Only one element is held in memory
// at a time. The context is checked between elements; a visit error or
// cancellation stops the scan and is returned to the caller.
func ReadUpdates(ctx context.Context, r io.Reader, visit func(Update) error) error {
	dec := xml.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read XML token: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Update" {
			continue
		}
		var xu xmlUpdate
		if err := dec.DecodeElement(&xu, &se); err != nil {
			return fmt.Errorf("failed to decode Update element: %w", err)
		}
		if err := visit(fromWire(xu)); err != nil {
			return err
		}
	}
}

func fromWire(xu xmlUpdate) Update {
	u := Update{
		UpdateID:           xu.UpdateID,
		Title:              xu.Title,
		Description:        xu.Description,
		Classification:     xu.Classification,
		Product:            xu.Product,
		ProductFamily:      xu.ProductFamily,
		KBArticleID:        xu.KBArticleID,
		SecurityBulletinID: xu.SecurityBulletinID,
		MsrcSeverity:       xu.MsrcSeverity,
		OsVersion:          xu.OsVersion,
	}
	// Unparsable timestamps are dropped rather than failing the element;
	// the rest of the record is still usable.
	u.ReleaseDate = parseTime(xu.ReleaseDate)
	u.LastModified = parseTime(xu.LastModified)
	if xu.Categories != nil {
		u.Categories = xu.Categories.Category
	}
	if xu.SupersededBy != nil {
		u.SupersededBy = xu.SupersededBy.UpdateID
	}
	return u
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
