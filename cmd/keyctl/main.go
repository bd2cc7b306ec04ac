// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Workspace key provisioning CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .envファイルを読み込む（既存の環境変数は上書きしない）
			_ = godotenv.Load()
			if apiURL == "" {
				apiURL = os.Getenv("KEYCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(provisionCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keyctl version %s\n", version)
		},
	}
}

// getCmd はAPI経由で鍵を取得するコマンド。
func getCmd() *cobra.Command {
	var keyName, format string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch the symmetric or public key from the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyName != "symmetric" && keyName != "public" {
				return fmt.Errorf("--key must be symmetric or public")
			}
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set KEYCTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/keys/%s", strings.TrimRight(apiURL, "/"), keyName)
			if format != "" {
				if keyName != "public" {
					return fmt.Errorf("--format is only supported for the public key")
				}
				url += "?format=" + format
			}

			body, err := apiGet(url)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				fmt.Fprintln(out, string(body))
				return nil
			}
			var result struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintln(out, strings.TrimRight(result.Key, "\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyName, "key", "", "Key name: symmetric, public (required)")
	cmd.Flags().StringVar(&format, "format", "", "Public key format: pem, ssh")
	cmd.MarkFlagRequired("key")
	return cmd
}

// runsCmd はAPI経由でプロビジョニング台帳を一覧表示するコマンド。
func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent provisioning runs from the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set KEYCTL_API_URL)")
			}

			body, err := apiGet(fmt.Sprintf("%s/v1/provisioning/runs?limit=%d", strings.TrimRight(apiURL, "/"), limit))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				fmt.Fprintln(out, string(body))
				return nil
			}

			var result struct {
				Runs []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					FailureKind string `json:"failure_kind"`
					RSABits     int    `json:"rsa_bits"`
					Escrowed    bool   `json:"escrowed"`
					StartedAt   string `json:"started_at"`
				} `json:"runs"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tBITS\tESCROWED\tSTARTED AT\tFAILURE")
			for _, run := range result.Runs {
				failure := "-"
				if run.FailureKind != "" {
					failure = run.FailureKind
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\n", run.ID, run.Status, run.RSABits, run.Escrowed, run.StartedAt, failure)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs (1-100)")
	return cmd
}

func apiGet(url string) ([]byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
