package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ScenarioGenerator writes OCR text documents with known anomalies, a batch
// manifest and the anomaly types each document is expected to raise.
type ScenarioGenerator struct {
	Seed      int64
	OutputDir string

	rng          *rand.Rand
	manifest     []manifestEntry
	expectations map[string][]string
}

type manifestEntry struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
	Meta string `yaml:"meta"`
}

type scenario struct {
	name     string
	generate func(sg *ScenarioGenerator)
}

var scenarios = []scenario{
	{"clean", (*ScenarioGenerator).GenerateCleanScenarios},
	{"balance", (*ScenarioGenerator).GenerateBalanceMismatchScenario},
	{"sequence", (*ScenarioGenerator).GenerateSequenceGapScenario},
	{"pages", (*ScenarioGenerator).GeneratePageScenarios},
	{"duplicates", (*ScenarioGenerator).GenerateDuplicateScenarios},
	{"layout", (*ScenarioGenerator).GenerateGarbledScenario},
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated_scenarios", "Output directory for scenario files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		only      = flag.String("scenario", "all", "Scenario to generate: all, clean, balance, sequence, pages, duplicates, layout")
	)
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &ScenarioGenerator{
		Seed:         *seed,
		OutputDir:    *outputDir,
		rng:          rand.New(rand.NewSource(*seed)),
		expectations: make(map[string][]string),
	}

	ran := false
	for _, s := range scenarios {
		if *only == "all" || *only == s.name {
			fmt.Printf("Generating %s scenario...\n", s.name)
			s.generate(generator)
			ran = true
		}
	}
	if !ran {
		log.Fatalf("Unknown scenario: %s", *only)
	}

	if err := generator.writeManifest(); err != nil {
		log.Fatalf("Failed to write manifest: %v", err)
	}

	fmt.Printf("Generated %d documents in %s\n", len(generator.manifest), *outputDir)
	fmt.Printf("Seed used: %d\n", *seed)
	fmt.Printf("Run: anomalyscan batch --manifest %s --results-file results.json\n",
		filepath.Join(*outputDir, "manifest.yaml"))
}

// GenerateCleanScenarios writes a reconciling statement and a plain letter
func (sg *ScenarioGenerator) GenerateCleanScenarios() {
	lines, total := sg.checkLines(1001, 5, nil)
	text := fmt.Sprintf("Account Summary\n5 Checks $%s\nCheck Number Date Amount\n%s",
		total.StringFixed(2), strings.Join(lines, "\n"))
	sg.addDocument("clean_statement", "March Statement", 1, text)

	sg.addDocument("clean_letter", "letter", 0, "Dear customer,\nThank you for banking with us.\nSincerely,\nBranch manager")
}

// GenerateBalanceMismatchScenario claims more than the listed checks add up to
func (sg *ScenarioGenerator) GenerateBalanceMismatchScenario() {
	lines, total := sg.checkLines(2001, 4, nil)
	missing := sg.amount(100, 900)
	text := fmt.Sprintf("Account Summary\n5 Checks $%s\nCheck Number Date Amount\n%s",
		total.Add(missing).StringFixed(2), strings.Join(lines, "\n"))
	sg.addDocument("balance_mismatch", "April Statement", 1, text, "balance_mismatch")
}

// GenerateSequenceGapScenario skips two check numbers with a matching claim
func (sg *ScenarioGenerator) GenerateSequenceGapScenario() {
	lines, total := sg.checkLines(3001, 6, map[int]bool{3003: true, 3004: true})
	text := fmt.Sprintf("Account Summary\n%d Checks $%s\nCheck Number Date Amount\n%s",
		len(lines), total.StringFixed(2), strings.Join(lines, "\n"))
	sg.addDocument("sequence_gap", "May Statement", 1, text, "check_sequence_gap")
}

// GeneratePageScenarios writes a stamp gap and a lone first-page stamp
func (sg *ScenarioGenerator) GeneratePageScenarios() {
	sg.addDocument("page_gap", "Lease agreement", 4,
		"Page 1 of 4\nLease terms\nPage 4 of 4\nSignatures", "page_discontinuity")
	sg.addDocument("page_cover_only", "Meeting notes", 4,
		"Page 1 of 4\nMeeting notes", "page_discontinuity")
}

// GenerateDuplicateScenarios writes repeated payment lines and repeated
// boilerplate, which must not be flagged
func (sg *ScenarioGenerator) GenerateDuplicateScenarios() {
	ref := 1000 + sg.rng.Intn(9000)
	line := fmt.Sprintf("03/15 Payment applied ref %d $%s", ref, sg.amount(500, 5000).StringFixed(2))
	sg.addDocument("duplicate_payment", "Invoice 42", 0,
		strings.Join([]string{"Invoice 42", line, line, "Thank you"}, "\n"), "duplicate_lines")

	boilerplate := "Member FDIC, deposits insured up to $250,000.00"
	sg.addDocument("duplicate_boilerplate", "Invoice 43", 0,
		strings.Join([]string{"Invoice 43", boilerplate, "Services rendered", boilerplate}, "\n"))
}

// GenerateGarbledScenario writes text dominated by OCR noise
func (sg *ScenarioGenerator) GenerateGarbledScenario() {
	sg.addDocument("garbled_scan", "scan", 0, strings.Repeat("##$$%%^^&&**ab\n", 12), "layout_irregularity")
}

// checkLines builds consecutive check lines starting at first, leaving out
// the numbers in skip. It returns the lines and their total.
func (sg *ScenarioGenerator) checkLines(first, count int, skip map[int]bool) ([]string, decimal.Decimal) {
	var lines []string
	total := decimal.Zero
	for number, written := first, 0; written < count; number++ {
		if skip[number] {
			continue
		}
		amount := sg.amount(20, 800)
		total = total.Add(amount)
		lines = append(lines, fmt.Sprintf("%d 03/%02d $%s", number, written+1, amount.StringFixed(2)))
		written++
	}
	return lines, total
}

func (sg *ScenarioGenerator) amount(min, max int) decimal.Decimal {
	cents := int64(min*100 + sg.rng.Intn((max-min)*100))
	return decimal.New(cents, -2)
}

func (sg *ScenarioGenerator) addDocument(id, title string, pageCount int, text string, expected ...string) {
	textFile := id + ".txt"
	if err := os.WriteFile(filepath.Join(sg.OutputDir, textFile), []byte(text), 0644); err != nil {
		log.Printf("Failed to create %s: %v", textFile, err)
		return
	}

	metaFile := id + ".json"
	meta, _ := json.MarshalIndent(map[string]interface{}{
		"title":      title,
		"page_count": pageCount,
	}, "", "  ")
	if err := os.WriteFile(filepath.Join(sg.OutputDir, metaFile), meta, 0644); err != nil {
		log.Printf("Failed to create %s: %v", metaFile, err)
		return
	}

	sg.manifest = append(sg.manifest, manifestEntry{ID: id, Text: textFile, Meta: metaFile})
	sort.Strings(expected)
	sg.expectations[id] = append([]string{}, expected...)
	fmt.Printf("  Created %s (expects %v)\n", id, expected)
}

func (sg *ScenarioGenerator) writeManifest() error {
	manifest, err := yaml.Marshal(map[string]interface{}{"documents": sg.manifest})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(sg.OutputDir, "manifest.yaml"), manifest, 0644); err != nil {
		return err
	}

	expectations, err := yaml.Marshal(map[string]interface{}{
		"seed":      sg.Seed,
		"documents": sg.expectations,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sg.OutputDir, "expectations.yaml"), expectations, 0644)
}
