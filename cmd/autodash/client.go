package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/orangebricks/autodash/internal/config"
	"github.com/orangebricks/autodash/internal/driver"
	"github.com/orangebricks/autodash/internal/modelinfo"
	"github.com/orangebricks/autodash/internal/registry"
)

// baseURL returns the server root for client commands: --addr, then
// AUTODASH_API_ADDR or the config file, then the default.
func baseURL() string {
	addr := serverAddr
	if addr == "" {
		if cfg, err := loadConfig(); err == nil {
			addr = cfg.APIAddr
		} else {
			addr = config.DefaultAPIAddr
		}
	}
	return "http://" + addr
}

func apiClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func apiGet(path string, v any) error {
	resp, err := apiClient(30 * time.Second).Get(baseURL() + path)
	if err != nil {
		return fmt.Errorf("connecting to server: %w (is autodash serve running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiSend sends body as JSON and decodes the JSON object in the response.
func apiSend(method, path string, body any, timeout time.Duration) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, baseURL()+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := apiClient(timeout).Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w (is autodash serve running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func fetchEntries() ([]registry.Entry, error) {
	var m map[string]registry.Entry
	if err := apiGet("/dashboards", &m); err != nil {
		return nil, err
	}
	out := make([]registry.Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"ls"},
	Short:   "Show running dashboards",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := fetchEntries()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No dashboards")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tKIND\tSTATE\tHEALTH\tPID\tPORT\tUPTIME\tURL")
		for _, e := range entries {
			pid := "-"
			if e.PID > 0 {
				pid = strconv.Itoa(e.PID)
			}
			uptime := "-"
			if e.Uptime != "" {
				uptime = e.Uptime
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				e.Path, e.Kind, e.State, e.Health, pid, e.Port, uptime, e.URL)
		}
		w.Flush()

		for _, e := range entries {
			if e.State == driver.StateFailed && e.LastError != "" {
				fmt.Printf("\n%s: %s\n", e.Path, e.LastError)
			}
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <file>",
	Short: "Start a dashboard for a source file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		result, err := apiSend(http.MethodPost, "/dashboards",
			map[string]string{"file": absPath(args[0]), "type": kind}, 2*time.Minute)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s%v\n", args[0], baseURL(), result["url"])
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [file...]",
	Short: "Stop dashboards (all when no file is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			entries, err := fetchEntries()
			if err != nil {
				return err
			}
			for _, e := range entries {
				args = append(args, e.Path)
			}
		}

		for _, file := range args {
			result, err := apiSend(http.MethodDelete, "/dashboards",
				map[string]string{"file": absPath(file)}, 30*time.Second)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
				continue
			}
			fmt.Printf("%s: %v\n", file, result["status"])
		}
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <file>",
	Short: "Restart a dashboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiSend(http.MethodPost, "/dashboards/restart",
			map[string]string{"file": absPath(args[0])}, 2*time.Minute)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %v\n", args[0], result["status"])
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <file>",
	Short: "Show recent output of a dashboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		q := url.Values{}
		q.Set("file", absPath(args[0]))
		q.Set("lines", strconv.Itoa(n))

		var resp struct {
			Lines []string `json:"lines"`
		}
		if err := apiGet("/dashboards/logs?"+q.Encode(), &resp); err != nil {
			return err
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

var translateCmd = &cobra.Command{
	Use:   "translate <notebook.ipynb>",
	Short: "Translate a notebook into a dashboard and start it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		result, err := apiSend(http.MethodPost, "/translate",
			map[string]string{"file": absPath(args[0]), "type": kind}, 5*time.Minute)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %v\n", result["file"])
		fmt.Printf("serving at %s%v\n", baseURL(), result["url"])
		return nil
	},
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Show the translation model in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		var info modelinfo.Info
		if err := apiGet("/model-info", &info); err != nil {
			return err
		}
		where := "remote"
		if info.IsLocal {
			where = "local"
		}
		fmt.Printf("model:    %s\n", info.ModelName)
		fmt.Printf("provider: %s (%s)\n", info.ModelProvider, where)
		if info.APIURL != "" {
			fmt.Printf("api url:  %s\n", info.APIURL)
		}
		fmt.Printf("api key:  %t\n", info.HasAPIKey)
		return nil
	},
}

func init() {
	startCmd.Flags().StringP("type", "t", "streamlit", "dashboard framework: streamlit, solara or dash")
	translateCmd.Flags().StringP("type", "t", "streamlit", "dashboard framework: streamlit, solara or dash")
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(modelCmd)
}
