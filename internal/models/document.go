package models

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// DocumentMetadata is the subset of document-store metadata the engine reads.
// PageCount is 0 when unknown.
type DocumentMetadata struct {
	Title            string `json:"title" yaml:"title" mapstructure:"title"`
	PageCount        int    `json:"page_count" yaml:"page_count" mapstructure:"page_count"`
	MimeType         string `json:"mime_type,omitempty" yaml:"mime_type,omitempty" mapstructure:"mime_type"`
	OriginalFileName string `json:"original_file_name,omitempty" yaml:"original_file_name,omitempty" mapstructure:"original_file_name"`
}

// DecodeMetadata decodes a loosely typed metadata mapping, as delivered by a
// JSON document-store API, into DocumentMetadata. Numbers may arrive as
// float64 or strings; unknown keys are ignored.
func DecodeMetadata(raw map[string]interface{}) (DocumentMetadata, error) {
	var meta DocumentMetadata
	if raw == nil {
		return meta, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &meta,
		TagName:          "mapstructure",
	})
	if err != nil {
		return meta, fmt.Errorf("failed to create metadata decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return meta, fmt.Errorf("failed to decode document metadata: %w", err)
	}
	if meta.PageCount < 0 {
		return meta, fmt.Errorf("page_count cannot be negative: %d", meta.PageCount)
	}
	return meta, nil
}

// Document is one detection input: metadata, OCR text and optional raw bytes
type Document struct {
	Metadata  DocumentMetadata
	Content   string
	ImageData []byte
}

// WantsForensics reports whether the raw bytes should go through image
// forensics. An empty mime type is treated as a raster image.
func (d Document) WantsForensics() bool {
	if len(d.ImageData) == 0 {
		return false
	}
	mime := strings.ToLower(d.Metadata.MimeType)
	return mime == "" || strings.Contains(mime, "image") || strings.Contains(mime, "pdf")
}

// IsPDF reports whether the raw bytes are a PDF, by mime type or magic number
func (d Document) IsPDF() bool {
	if strings.Contains(strings.ToLower(d.Metadata.MimeType), "pdf") {
		return true
	}
	return len(d.ImageData) >= 5 && string(d.ImageData[:5]) == "%PDF-"
}
