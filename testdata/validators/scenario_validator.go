package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScenarioValidator compares stored batch results with the anomaly types the
// scenario generator planted in each document
type ScenarioValidator struct {
	Verbose bool
}

// ScenarioResult is the verdict for one generated document
type ScenarioResult struct {
	DocumentID string
	Expected   []string
	Actual     []string
	Missing    []string
	Unexpected []string
	Found      bool
}

// Passed reports whether every expected type was raised and nothing else
func (r ScenarioResult) Passed() bool {
	return r.Found && len(r.Missing) == 0 && len(r.Unexpected) == 0
}

type expectationsFile struct {
	Seed      int64               `yaml:"seed"`
	Documents map[string][]string `yaml:"documents"`
}

type storedRow struct {
	DocumentID string                 `json:"document_id" yaml:"document_id"`
	Result     map[string]interface{} `json:"result" yaml:"result"`
}

func main() {
	var (
		expectationsPath = flag.String("expectations", "generated_scenarios/expectations.yaml", "Expectations written by the scenario generator")
		resultsPath      = flag.String("results", "results.json", "Stored results written by 'anomalyscan batch --results-file'")
		verbose          = flag.Bool("verbose", false, "Show every document, not just failures")
	)
	flag.Parse()

	expectations, err := loadExpectations(*expectationsPath)
	if err != nil {
		log.Fatalf("Failed to load expectations: %v", err)
	}
	rows, err := loadResults(*resultsPath)
	if err != nil {
		log.Fatalf("Failed to load results: %v", err)
	}

	validator := &ScenarioValidator{Verbose: *verbose}
	results := validator.Validate(expectations, rows)
	if !validator.PrintResults(expectations.Seed, results) {
		os.Exit(1)
	}
}

// Validate checks every expected document in id order
func (sv *ScenarioValidator) Validate(expectations *expectationsFile, rows []storedRow) []ScenarioResult {
	actual := make(map[string][]string)
	for _, row := range rows {
		actual[row.DocumentID] = anomalyTypes(row.Result)
	}

	ids := make([]string, 0, len(expectations.Documents))
	for id := range expectations.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]ScenarioResult, 0, len(ids))
	for _, id := range ids {
		got, found := actual[id]
		result := ScenarioResult{
			DocumentID: id,
			Expected:   expectations.Documents[id],
			Actual:     got,
			Found:      found,
		}
		result.Missing = difference(result.Expected, got)
		result.Unexpected = difference(got, result.Expected)
		results = append(results, result)
	}
	return results
}

// PrintResults prints the verdicts and reports whether all passed
func (sv *ScenarioValidator) PrintResults(seed int64, results []ScenarioResult) bool {
	fmt.Println("Scenario Validation Results")
	fmt.Println("===========================")
	fmt.Printf("Seed: %d\n", seed)

	passed := 0
	for _, result := range results {
		if result.Passed() {
			passed++
			if !sv.Verbose {
				continue
			}
		}

		status := "PASS"
		if !result.Passed() {
			status = "FAIL"
		}
		fmt.Printf("\n[%s] %s\n", status, result.DocumentID)
		if !result.Found {
			fmt.Println("  No stored result (document failed to load)")
			continue
		}
		fmt.Printf("  Expected: %s\n", list(result.Expected))
		fmt.Printf("  Actual:   %s\n", list(result.Actual))
		if len(result.Missing) > 0 {
			fmt.Printf("  Missing:    %s\n", list(result.Missing))
		}
		if len(result.Unexpected) > 0 {
			fmt.Printf("  Unexpected: %s\n", list(result.Unexpected))
		}
	}

	fmt.Printf("\n%d/%d scenarios passed\n", passed, len(results))
	return passed == len(results)
}

func loadExpectations(path string) (*expectationsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file expectationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func loadResults(path string) ([]storedRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []storedRow
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, &rows)
	} else {
		err = json.Unmarshal(data, &rows)
	}
	return rows, err
}

func anomalyTypes(result map[string]interface{}) []string {
	raw, _ := result["anomaly_types"].([]interface{})
	types := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			types = append(types, s)
		}
	}
	sort.Strings(types)
	return types
}

func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}

func list(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}
