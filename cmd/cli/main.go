package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	language  string
)

func main() {
	root := &cobra.Command{
		Use:   "toolgate-cli",
		Short: "CLI client for agent-toolgate",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("TOOLGATE_API_KEY"), "API key")

	// Validate command
	validateCmd := &cobra.Command{
		Use:   "validate [code]",
		Short: "Validate tool code (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVarP(&language, "language", "l", "python", "Language (python, javascript, typescript)")
	root.AddCommand(validateCmd)

	// Validate from file
	validateFileCmd := &cobra.Command{
		Use:   "validate-file [file]",
		Short: "Validate tool code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidateFile,
	}
	validateFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	root.AddCommand(validateFileCmd)

	// Artifact inspection and lifecycle
	artifactCmd := &cobra.Command{
		Use:   "artifact",
		Short: "Inspect or manage cached artifacts",
	}
	artifactCmd.AddCommand(&cobra.Command{
		Use:   "get [hash]",
		Short: "Fetch a cached artifact by submission hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doRequest("GET", "/artifacts/"+args[0], nil)
		},
	})
	artifactCmd.AddCommand(&cobra.Command{
		Use:   "delete [hash]",
		Short: "Delete an unreferenced artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doRequest("DELETE", "/artifacts/"+args[0], nil)
		},
	})
	artifactCmd.AddCommand(&cobra.Command{
		Use:   "ref [hash]",
		Short: "Register a reference on an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doRequest("POST", "/artifacts/"+args[0]+"/refs", nil)
		},
	})
	artifactCmd.AddCommand(&cobra.Command{
		Use:   "unref [hash]",
		Short: "Release a reference on an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doRequest("DELETE", "/artifacts/"+args[0]+"/refs", nil)
		},
	})
	root.AddCommand(artifactCmd)

	// Active policy
	root.AddCommand(&cobra.Command{
		Use:   "policy",
		Short: "Show the active security policy",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRequest("GET", "/policy", nil)
		},
	})

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	// List validations
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent validations",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRequest("GET", "/validations", nil)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		// Read from stdin
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return validateCode(code, language)
}

func runValidateFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	// Auto-detect language from extension
	if language == "" {
		switch ext := fileExtension(args[0]); ext {
		case ".py":
			language = "python"
		case ".js":
			language = "javascript"
		case ".ts":
			language = "typescript"
		default:
			return fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
		}
	}

	return validateCode(string(data), language)
}

func validateCode(code, lang string) error {
	payload := map[string]any{
		"code":     code,
		"language": lang,
	}

	body, _ := json.Marshal(payload)

	result, err := doJSON("POST", "/validate", bytes.NewReader(body))
	if err != nil {
		return err
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	// Non-zero exit when the submission was rejected, so scripts can gate
	// on the outcome without parsing JSON.
	if m, ok := result.(map[string]any); ok {
		if valid, ok := m["is_valid"].(bool); ok && !valid {
			os.Exit(1)
		}
	}

	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func doRequest(method, path string, body io.Reader) error {
	result, err := doJSON(method, path, body)
	if err != nil {
		return err
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func doJSON(method, path string, body io.Reader) (any, error) {
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func fileExtension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
