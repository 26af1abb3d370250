package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"document-anomaly-service/internal/detector"
	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/reporter"
	"document-anomaly-service/internal/rules"
	"document-anomaly-service/pkg/errors"
)

// Config file sections
const (
	DetectionKey = "detection"
	ReportKey    = "report"
	RulesFileKey = "rules-file"
)

// LoadDetectorConfig returns the default thresholds overridden by the
// detection section of the loaded config. Keys that are not set keep their
// defaults.
func LoadDetectorConfig(v *viper.Viper) (*detector.Config, error) {
	config := detector.DefaultConfig()
	if v != nil && v.IsSet(DetectionKey) {
		if err := v.UnmarshalKey(DetectionKey, config); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, DetectionKey, err.Error(), err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, DetectionKey, err.Error(), err)
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output
// format, applying any report section of the loaded config first.
func CreateReportConfig(v *viper.Viper, format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	if v != nil && v.IsSet(ReportKey) {
		if err := v.UnmarshalKey(ReportKey, config); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, ReportKey, err.Error(), err)
		}
	}

	if format != "" {
		config.Format = reporter.OutputFormat(strings.ToLower(format))
	}

	switch config.Format {
	case reporter.FormatJSON, reporter.FormatYAML:
		config.IncludeRecords = true
		config.IncludeLayoutLines = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		if config.CSVDelimiter == 0 {
			config.CSVDelimiter = ','
		}
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("Valid formats: console, json, yaml, csv")
	}
	return config, nil
}

// LoadKeywords reads a boilerplate keyword file. An empty path returns the
// embedded list.
func LoadKeywords(fs afero.Fs, path string) (*rules.KeywordSet, error) {
	if path == "" {
		return rules.DefaultKeywords(), nil
	}

	data, err := readFile(fs, path)
	if err != nil {
		return nil, err
	}

	keywords, err := rules.ParseKeywords(data)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, RulesFileKey, path, err).
			WithSuggestion("The rules file must be TOML with a version and [[group]] tables")
	}
	return keywords, nil
}

// DocumentInput names the files and overrides that make up one document
type DocumentInput struct {
	ID        string `yaml:"id" json:"id"`
	TextFile  string `yaml:"text" json:"text"`
	MetaFile  string `yaml:"meta" json:"meta"`
	ImageFile string `yaml:"image" json:"image"`
	Title     string `yaml:"title" json:"title"`
	PageCount int    `yaml:"page_count" json:"page_count"`
	MimeType  string `yaml:"mime_type" json:"mime_type"`
}

// Validate checks that the input names at least one content source
func (in DocumentInput) Validate() error {
	if in.TextFile == "" && in.ImageFile == "" {
		return fmt.Errorf("a text file or an image file is required")
	}
	if in.PageCount < 0 {
		return fmt.Errorf("page count cannot be negative: %d", in.PageCount)
	}
	return nil
}

// LoadDocument reads the text, metadata and image files of one document.
// Explicit title, page count and mime type override the metadata file.
func LoadDocument(fs afero.Fs, in DocumentInput) (models.Document, error) {
	var doc models.Document
	if err := in.Validate(); err != nil {
		return doc, errors.ConfigurationError(errors.CodeMissingConfig, "document", in.ID, err)
	}

	if in.MetaFile != "" {
		raw, err := readMapping(fs, in.MetaFile)
		if err != nil {
			return doc, err
		}
		meta, err := models.DecodeMetadata(raw)
		if err != nil {
			return doc, errors.FormatError(errors.CodeInvalidDocument, "metadata", in.MetaFile, err)
		}
		doc.Metadata = meta
	}

	if in.TextFile != "" {
		data, err := readFile(fs, in.TextFile)
		if err != nil {
			return doc, err
		}
		doc.Content = string(data)
	}

	if in.ImageFile != "" {
		data, err := readFile(fs, in.ImageFile)
		if err != nil {
			return doc, err
		}
		doc.ImageData = data
		if doc.Metadata.OriginalFileName == "" {
			doc.Metadata.OriginalFileName = filepath.Base(in.ImageFile)
		}
	}

	if in.Title != "" {
		doc.Metadata.Title = in.Title
	}
	if in.PageCount > 0 {
		doc.Metadata.PageCount = in.PageCount
	}
	if in.MimeType != "" {
		doc.Metadata.MimeType = in.MimeType
	}
	return doc, nil
}

// Manifest lists the documents of a batch run
type Manifest struct {
	Documents []DocumentInput `yaml:"documents" json:"documents"`
}

// LoadManifest reads a YAML or JSON manifest. Relative paths are resolved
// against the manifest's directory and documents without an id are numbered
// from 1.
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := readFile(fs, path)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, errors.FormatError(errors.CodeInvalidDocument, "manifest", path, err)
	}
	if len(manifest.Documents) == 0 {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "manifest documents", path, nil).
			WithSuggestion("List at least one document under 'documents'")
	}

	dir := filepath.Dir(path)
	for i := range manifest.Documents {
		in := &manifest.Documents[i]
		if in.ID == "" {
			in.ID = fmt.Sprintf("%d", i+1)
		}
		in.TextFile = resolve(dir, in.TextFile)
		in.MetaFile = resolve(dir, in.MetaFile)
		in.ImageFile = resolve(dir, in.ImageFile)
		if err := in.Validate(); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "manifest document "+in.ID, path, err)
		}
	}
	return &manifest, nil
}

// LoadStoredResults reads persisted result rows. Files ending in .yaml or
// .yml are YAML; everything else is JSON.
func LoadStoredResults(fs afero.Fs, path string) ([]models.StoredResult, error) {
	data, err := readFile(fs, path)
	if err != nil {
		return nil, err
	}

	var rows []models.StoredResult
	if isYAML(path) {
		err = yaml.Unmarshal(data, &rows)
	} else {
		err = json.Unmarshal(data, &rows)
	}
	if err != nil {
		return nil, errors.FormatError(errors.CodeInvalidDocument, "stored results", path, err)
	}
	return rows, nil
}

// WriteStoredResults writes result rows in the format chosen by the file
// extension.
func WriteStoredResults(fs afero.Fs, path string, rows []models.StoredResult) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(rows)
	} else {
		data, err = json.MarshalIndent(rows, "", "  ")
	}
	if err != nil {
		return errors.UnexpectedError(errors.CodeUnexpectedError, "encoding stored results", err)
	}

	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	return nil
}

func readFile(fs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err == nil {
		return data, nil
	}
	switch {
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return nil, errors.FileError("", path, err)
	}
}

// readMapping reads a JSON or YAML object
func readMapping(fs afero.Fs, path string) (map[string]interface{}, error) {
	data, err := readFile(fs, path)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, errors.FormatError(errors.CodeInvalidDocument, "metadata", path, err)
	}
	return raw, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
