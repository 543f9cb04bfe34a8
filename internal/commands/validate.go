package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/inventory/internal/validation"
	"evalgo.org/inventory/pkg/client"
)

var (
	validateLocal  bool
	validateAPIURL string
)

var errValidationFailed = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate [type] [file]",
	Short: "Validate an image document",
	Long: `Validate an image document (JSON or JSON-LD) before submitting it.

Examples:
  inventory validate image leaf-os-1.2.0.json
  inventory validate image leaf-os-1.2.0.json --local=false --api-url http://inventory:8080`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateLocal, "local", true, "validate locally (default: true)")
	validateCmd.Flags().StringVar(&validateAPIURL, "api-url", "", "inventory API base URL (default: from server config)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	entityType := args[0]
	filename := args[1]

	if entityType != "image" {
		return fmt.Errorf("unknown entity type: %s (use 'image')", entityType)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var result *validation.ValidationResult
	if validateLocal {
		result, err = validation.New().ValidateImageDocument(data)
	} else {
		result, err = validateViaAPI(commandContext(cmd), apiBaseURL(), data)
	}
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	return printValidationResult(cmd.OutOrStdout(), result)
}

func apiBaseURL() string {
	if validateAPIURL != "" {
		return validateAPIURL
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

func validateViaAPI(ctx context.Context, baseURL string, data []byte) (*validation.ValidationResult, error) {
	c, err := client.New(baseURL)
	if err != nil {
		return nil, err
	}
	return c.ValidateImage(ctx, data)
}

func printValidationResult(out io.Writer, result *validation.ValidationResult) error {
	if result.Valid {
		fmt.Fprintln(out, "✓ Document is valid")
		return nil
	}

	fmt.Fprintln(out, "✗ Validation failed:")
	for _, e := range result.Errors {
		if e.Value != nil {
			fmt.Fprintf(out, "  - %s: %s (value: %v)\n", e.Field, e.Message, e.Value)
		} else {
			fmt.Fprintf(out, "  - %s: %s\n", e.Field, e.Message)
		}
	}

	return errValidationFailed
}
