// Package pdfimage reads scanned PDFs: the page count and the embedded page
// images that forensics analyzes.
package pdfimage

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	apperrors "document-anomaly-service/pkg/errors"
)

var pdfMagic = []byte("%PDF-")

func init() {
	// No config files are read or written on the host.
	api.DisableConfigDir()
}

// IsPDF reports whether data starts with the PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in a PDF
func PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, apperrors.RecoveredError("pdf page count", r)
		}
	}()

	n, err = api.PageCount(bytes.NewReader(data), configuration())
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CategoryFormat, apperrors.CodeInvalidDocument, "failed to read pdf page count")
	}
	return n, nil
}

// Image is an embedded image stream extracted from a page
type Image struct {
	Page     int
	FileType string
	Data     []byte
}

// FirstPageImage returns the first embedded image of the lowest numbered
// page that has one. Scanned documents carry one full-page image per page.
func FirstPageImage(data []byte, filename string) (img *Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, apperrors.RecoveredError("pdf image extraction", r)
		}
	}()

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, configuration())
	if err != nil {
		return nil, apperrors.UnsupportedImageError(apperrors.CodeUndecodableImage, filename, err)
	}

	var candidates []model.Image
	for _, byObj := range pages {
		for _, im := range byObj {
			candidates = append(candidates, im)
		}
	}
	if len(candidates) == 0 {
		return nil, apperrors.UnsupportedImageError(apperrors.CodeNoPageImage, filename, nil)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PageNr != candidates[j].PageNr {
			return candidates[i].PageNr < candidates[j].PageNr
		}
		return candidates[i].ObjNr < candidates[j].ObjNr
	})

	first := candidates[0]
	raw, err := io.ReadAll(first)
	if err != nil {
		return nil, apperrors.UnsupportedImageError(apperrors.CodeUndecodableImage, filename,
			fmt.Errorf("read image on page %d: %w", first.PageNr, err))
	}
	return &Image{Page: first.PageNr, FileType: first.FileType, Data: raw}, nil
}
