package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"document-anomaly-service/cmd/anomalyscan/config"
	"document-anomaly-service/internal/rules"
	"document-anomaly-service/pkg/errors"
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show the shared boilerplate keywords and page table version",
	Long: `Rules prints the boilerplate keyword list used by duplicate line detection
and retroactive cleanup, together with the page stamp table version. Both
versions are recorded in every cleanup report.

Examples:
  anomalyscan rules
  anomalyscan rules --rules-file boilerplate.toml --output-format yaml`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)

	rulesCmd.Flags().VarP(newFormatValue("console", "console", "yaml"), "output-format", "f", "output format: console, yaml")
}

func runRules(cmd *cobra.Command, args []string) error {
	keywords, err := config.LoadKeywords(appFs, viper.GetString(config.RulesFileKey))
	if err != nil {
		return err
	}
	return writeRules(cmd.OutOrStdout(), keywords, viper.GetString("output-format"))
}

func writeRules(w io.Writer, keywords *rules.KeywordSet, format string) error {
	switch strings.ToLower(format) {
	case "yaml":
		groups := make([]map[string]interface{}, 0, len(keywords.Groups()))
		for _, g := range keywords.Groups() {
			groups = append(groups, map[string]interface{}{"name": g.Name, "keywords": g.Keywords})
		}
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(map[string]interface{}{
			"rules_version":      keywords.Version(),
			"page_table_version": rules.PageTableVersion,
			"groups":             groups,
		})
	case "console", "":
		fmt.Fprintf(w, "Rules Version: %s\n", keywords.Version())
		fmt.Fprintf(w, "Page Table Version: %s\n", rules.PageTableVersion)
		fmt.Fprintf(w, "Keywords: %d\n", len(keywords.Keywords()))
		for _, g := range keywords.Groups() {
			fmt.Fprintf(w, "\n=== %s ===\n", strings.ToUpper(g.Name))
			for _, kw := range g.Keywords {
				fmt.Fprintf(w, "  %s\n", kw)
			}
		}
		return nil
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("unsupported rules output format: %s", format)).
			WithSuggestion("Valid formats: console, yaml")
	}
}
