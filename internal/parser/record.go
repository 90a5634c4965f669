package parser

import (
	"context"
	"encoding/xml"
	"io"
	"regexp"

	"github.com/secflow/catalogd/internal/catalogxml"
	"github.com/secflow/catalogd/internal/db"
)

// toRecord converts a parsed catalog entry into its storage shape, deriving
// the grouping fields the rebuilder projects on.
func toRecord(u catalogxml.Update) db.UpdateRecord {
	rec := db.UpdateRecord{
		UpdateID:           u.UpdateID,
		Title:              u.Title,
		Description:        u.Description,
		Classification:     u.Classification,
		Product:            u.Product,
		ProductFamily:      u.ProductFamily,
		KBArticleID:        u.KBArticleID,
		SecurityBulletinID: u.SecurityBulletinID,
		MsrcSeverity:       u.MsrcSeverity,
		Categories:         u.Categories,
		SupersededBy:       u.SupersededBy,
		IsSuperseded:       len(u.SupersededBy) > 0,
		ReleaseDate:        u.ReleaseDate,
		LastModified:       u.LastModified,
		OsVersion:          u.OsVersion,
	}
	if rec.ReleaseDate != nil {
		year := rec.ReleaseDate.Year()
		month := int(rec.ReleaseDate.Month())
		rec.Year = &year
		rec.Month = &month
	}
	if rec.OsVersion == "" {
		rec.OsVersion = deriveOsVersion(u.Product, u.Title)
	}
	return rec
}

var osVersionPattern = regexp.MustCompile(`(?i)\bWindows (?:Server )?\d+(?:\.\d+)?(?: R2)?\b`)

// deriveOsVersion pulls an operating system name out of free-form product or
// title text. First match wins; entries with no recognizable OS stay blank
// and fall out of OS-based groupings.
func deriveOsVersion(fields ...string) string {
	for _, f := range fields {
		if m := osVersionPattern.FindString(f); m != "" {
			return m
		}
	}
	return ""
}

// drainMetadataDocument consumes a per-package metadata document. The
// content is not ingested yet; the document is still read to the end so a
// truncated or corrupt archive fails loudly here rather than downstream.
func drainMetadataDocument(ctx context.Context, r io.Reader) error {
	return drainXML(ctx, r)
}

// drainPackageDocument consumes a package description document. Same
// placeholder treatment as drainMetadataDocument.
func drainPackageDocument(ctx context.Context, r io.Reader) error {
	return drainXML(ctx, r)
}

func drainXML(ctx context.Context, r io.Reader) error {
	dec := xml.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := dec.Token(); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
