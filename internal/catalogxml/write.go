package catalogxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

type xmlUpdate struct {
	XMLName            xml.Name         `xml:"Update"`
	UpdateID           string           `xml:"UpdateId,attr"`
	Title              string           `xml:"Title"`
	Description        string           `xml:"Description,omitempty"`
	Classification     string           `xml:"Classification,omitempty"`
	Product            string           `xml:"Product,omitempty"`
	ProductFamily      string           `xml:"ProductFamily,omitempty"`
	KBArticleID        string           `xml:"KBArticleID,omitempty"`
	SecurityBulletinID string           `xml:"SecurityBulletinID,omitempty"`
	MsrcSeverity       string           `xml:"MsrcSeverity,omitempty"`
	ReleaseDate        string           `xml:"ReleaseDate,omitempty"`
	LastModified       string           `xml:"LastModified,omitempty"`
	OsVersion          string           `xml:"OsVersion,omitempty"`
	Categories         *xmlCategories   `xml:"Categories,omitempty"`
	SupersededBy       *xmlSupersededBy `xml:"SupersededBy,omitempty"`
}

type xmlCategories struct {
	Category []string `xml:"Category"`
}

type xmlSupersededBy struct {
	UpdateID []string `xml:"UpdateId"`
}

type xmlMetadata struct {
	XMLName     xml.Name `xml:"Metadata"`
	CreatedDate string   `xml:"CreatedDate"`
	UpdateCount string   `xml:"UpdateCount"`
}

func toWire(u Update) xmlUpdate {
	xu := xmlUpdate{
		UpdateID:           u.UpdateID,
		Title:              u.Title,
		Description:        u.Description,
		Classification:     u.Classification,
		Product:            u.Product,
		ProductFamily:      u.ProductFamily,
		KBArticleID:        u.KBArticleID,
		SecurityBulletinID: u.SecurityBulletinID,
		MsrcSeverity:       u.MsrcSeverity,
		OsVersion:          u.OsVersion,
	}
	if u.ReleaseDate != nil {
		xu.ReleaseDate = u.ReleaseDate.Format(TimeLayout)
	}
	if u.LastModified != nil {
		xu.LastModified = u.LastModified.Format(TimeLayout)
	}
	if len(u.Categories) > 0 {
		xu.Categories = &xmlCategories{Category: u.Categories}
	}
	if len(u.SupersededBy) > 0 {
		xu.SupersededBy = &xmlSupersededBy{UpdateID: u.SupersededBy}
	}
	return xu
}

// WriteIndex writes an index document with one Update element per record.
func WriteIndex(w io.Writer, updates []Update) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "Updates"}}
	if err := enc.EncodeToken(root); err != nil {
		return fmt.Errorf("failed to open Updates element: %w", err)
	}
	for _, u := range updates {
		if u.UpdateID == "" {
			return fmt.Errorf("update with empty UpdateId")
		}
		if err := enc.Encode(toWire(u)); err != nil {
			return fmt.Errorf("failed to encode update %s: %w", u.UpdateID, err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("failed to close Updates element: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("failed to flush index document: %w", err)
	}
	return nil
}

// WriteMetadata writes the companion metadata document carrying the archive
// generation timestamp and contained update count.
func WriteMetadata(w io.Writer, createdAt time.Time, updateCount int) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	doc := xmlMetadata{
		CreatedDate: createdAt.UTC().Format(TimeLayout),
		UpdateCount: strconv.Itoa(updateCount),
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode metadata document: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("failed to flush metadata document: %w", err)
	}
	return nil
}
