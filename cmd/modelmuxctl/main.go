package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("modelmuxctl %s\n", version)
	case "admin-token":
		doAdminToken()
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "route":
		doRoute(args)
	case "tasks":
		doTasks()
	case "vault":
		doVault(args)
	case "model", "models":
		doModels(args)
	case "task-config", "task-configs":
		doTaskConfigs(args)
	case "stats":
		doStats()
	case "logs":
		doLogs(args)
	case "audit":
		doAudit(args)
	case "clear-caches":
		doClearCaches()
	case "reload":
		doReload()
	case "events":
		doEvents()
	case "tsdb":
		doTSDB(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `modelmuxctl - CLI for the modelmux routing API

Usage: modelmuxctl <command> [arguments]

Environment:
  MODELMUX_URL          Base URL (default: http://localhost:8080)
  MODELMUX_ADMIN_TOKEN  Token for admin endpoints

Commands:
  admin-token                   Print the admin token (env, file, or Docker)
  status                        Show server info
  health                        Show provider health stats

  route <task> <input-json>     Route a request (--dry-run to preview only)
  tasks                         List task families and aliases

  vault unlock <password>       Unlock the credential vault
  vault lock                    Lock the credential vault

  model list                    List persisted model overrides
  model add <json>              Create or update a model entry
  model delete <provider> <id>  Delete a model entry

  task-config list              List task config overrides
  task-config set <family> <json>  Set the config for a family
  task-config delete <family>   Delete the config override for a family

  stats                         Show aggregated routing stats
  logs [--limit N]              Show request logs
  audit [--limit N]             Show audit logs
  clear-caches                  Clear the result cache and reset counters
  reload                        Rebuild the catalog from persisted overrides
  events                        Stream real-time SSE events

  tsdb query <args>             Query time series (metric=... family=...)
  tsdb metrics                  List time series metric names
  tsdb prune                    Prune old time series data

  version                       Show version
  help                          Show this help

Examples:
  modelmuxctl route chat '{"messages":[{"role":"user","content":"hi"}]}'
  modelmuxctl route chat '{}' --dry-run
  modelmuxctl vault unlock "my-secret-password"
  modelmuxctl model add '{"provider":"openai","model_id":"gpt-4o","family":"chat","tier":"primary","cost_tier":"premium","capabilities":["chat"]}'
  modelmuxctl task-config set chat '{"timeout_ms":30000,"max_retries":2,"cacheable":true,"cache_ttl_secs":300}'
  modelmuxctl tsdb query metric=latency family=chat
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("MODELMUX_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func adminToken() string {
	return os.Getenv("MODELMUX_ADMIN_TOKEN")
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := adminToken(); tok != "" {
		req.Header.Set("X-Admin-Token", tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPut(path, bodyJSON string) map[string]any {
	resp, err := doRequest("PUT", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) map[string]any {
	resp, err := doRequest("DELETE", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		// Might be an array; wrap it.
		var arr []any
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			return map[string]any{"items": arr}
		}
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: modelmuxctl %s\n", usage)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

// --- Commands ---

func doAdminToken() {
	// 1. Environment variable.
	if tok := os.Getenv("MODELMUX_ADMIN_TOKEN"); tok != "" {
		fmt.Println(tok)
		return
	}

	// 2. Local token file next to the database.
	for _, path := range tokenFileCandidates() {
		if data, err := os.ReadFile(path); err == nil {
			if tok := strings.TrimSpace(string(data)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	// 3. Docker container token file.
	for _, name := range []string{"modelmux-modelmux-1", "modelmux"} {
		out, err := exec.Command("docker", "exec", name, "cat", "/data/.admin-token").Output()
		if err == nil {
			if tok := strings.TrimSpace(string(out)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}

	fmt.Fprintln(os.Stderr, "admin token not found: set MODELMUX_ADMIN_TOKEN or ensure the service is running")
	os.Exit(1)
}

// tokenFileCandidates returns likely .admin-token locations, derived from
// the configured DB DSN when available.
func tokenFileCandidates() []string {
	var paths []string
	if dsn := os.Getenv("MODELMUX_DB_DSN"); dsn != "" {
		p := strings.TrimPrefix(dsn, "file:")
		if i := strings.Index(p, "?"); i >= 0 {
			p = p[:i]
		}
		if j := strings.LastIndex(p, "/"); j > 0 {
			paths = append(paths, p[:j]+"/.admin-token")
		}
	}
	paths = append(paths, "/data/.admin-token")
	return paths
}

func doStatus() {
	resp, err := doRequest("GET", "/healthz", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	var h map[string]any
	_ = json.Unmarshal(data, &h)

	status := "unknown"
	if s, ok := h["status"].(string); ok {
		status = s
	}
	fmt.Printf("Server:         %s\n", baseURL())
	fmt.Printf("Status:         %s\n", status)
	fmt.Printf("Task families:  %s\n", fmtNum(h["task_families"]))
	fmt.Printf("Adapters:       %s\n", fmtNum(h["adapters"]))
	fmt.Printf("Catalog ver:    %s\n", fmtNum(h["registry_version"]))
}

func doHealth() {
	data := doGet("/admin/v1/health")
	providers, _ := data["providers"].([]any)
	if len(providers) == 0 {
		fmt.Println("No provider health data available.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATE\tCONSEC_ERR\tAVG LATENCY\tLAST SUCCESS\tLAST ERROR")
	for _, p := range providers {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["provider"].(string)
		state, _ := m["state"].(string)
		errs := fmtNum(m["consec_errors"])
		lat := fmtDuration(m["avg_latency_ms"])
		lastOK := fmtTime(m["last_success_at"])
		lastErr, _ := m["last_error"].(string)
		if len(lastErr) > 60 {
			lastErr = lastErr[:57] + "..."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", id, state, errs, lat, lastOK, lastErr)
	}
	_ = tw.Flush()
}

func doRoute(args []string) {
	requireArgs(args, 1, "route <task> [input-json] [--dry-run]")
	task := args[0]
	input := "{}"
	dryRun := false
	for _, a := range args[1:] {
		if a == "--dry-run" {
			dryRun = true
			continue
		}
		input = a
	}

	body := fmt.Sprintf(`{"task":%s,"input":%s,"constraints":{"dry_run":%v}}`,
		jsonStr(task), input, dryRun)
	result := doPost("/v1/route", body)

	if dryRun {
		candidates, _ := result["candidates"].([]any)
		fmt.Printf("Task: %s (%d candidates)\n", task, len(candidates))
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "#\tPROVIDER\tMODEL\tTIER")
		for i, c := range candidates {
			m, _ := c.(map[string]any)
			provider, _ := m["provider"].(string)
			model, _ := m["model_id"].(string)
			tier, _ := m["tier"].(string)
			_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, provider, model, tier)
		}
		_ = tw.Flush()
		return
	}
	fmt.Println(prettyJSON(result))
}

func doTasks() {
	data := doGet("/v1/tasks")
	tasks, _ := data["tasks"].([]any)
	if len(tasks) == 0 {
		fmt.Println("No task families configured.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FAMILY\tMODELS\tALIASES\tCAPABILITIES")
	for _, t := range tasks {
		m, _ := t.(map[string]any)
		family, _ := m["family"].(string)
		models := fmtNum(m["entries"])
		aliases := joinAny(m["aliases"])
		caps := joinAny(m["capabilities"])
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", family, models, aliases, caps)
	}
	_ = tw.Flush()
}

func doVault(args []string) {
	requireArgs(args, 1, "vault <unlock|lock> [args]")
	switch args[0] {
	case "unlock":
		requireArgs(args, 2, "vault unlock <password>")
		body := fmt.Sprintf(`{"password":%s}`, jsonStr(args[1]))
		result := doPost("/admin/v1/vault/unlock", body)
		if result["ok"] == true {
			fmt.Println("Vault unlocked.")
		}
	case "lock":
		result := doPost("/admin/v1/vault/lock", "{}")
		if result["ok"] == true {
			if result["already_locked"] == true {
				fmt.Println("Vault was already locked.")
			} else {
				fmt.Println("Vault locked.")
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown vault command: %s\n", args[0])
		os.Exit(1)
	}
}

func doModels(args []string) {
	if len(args) == 0 || args[0] == "list" {
		data := doGet("/admin/v1/models")
		models, _ := data["models"].([]any)
		if models == nil {
			if items, ok := data["items"].([]any); ok {
				models = items
			}
		}
		if len(models) == 0 {
			fmt.Println("No model overrides persisted.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "PROVIDER\tMODEL\tFAMILY\tTIER\tCOST\tENABLED")
		for _, mm := range models {
			m, _ := mm.(map[string]any)
			provider, _ := m["provider"].(string)
			id, _ := m["model_id"].(string)
			family, _ := m["family"].(string)
			tier, _ := m["tier"].(string)
			cost, _ := m["cost_tier"].(string)
			enabled := "yes"
			if m["enabled"] == false {
				enabled = "no"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", provider, id, family, tier, cost, enabled)
		}
		_ = tw.Flush()
		return
	}

	switch args[0] {
	case "add":
		requireArgs(args, 2, "model add <json>")
		result := doPost("/admin/v1/models", args[1])
		if result["ok"] == true {
			fmt.Println("Model saved.")
		}
	case "delete":
		requireArgs(args, 3, "model delete <provider> <model-id>")
		result := doDelete("/admin/v1/models/" + args[1] + "/" + args[2])
		if result["ok"] == true {
			fmt.Println("Model deleted.")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown model command: %s\n", args[0])
		os.Exit(1)
	}
}

func doTaskConfigs(args []string) {
	if len(args) == 0 || args[0] == "list" {
		data := doGet("/admin/v1/task-configs")
		configs, _ := data["task_configs"].([]any)
		if configs == nil {
			if items, ok := data["items"].([]any); ok {
				configs = items
			}
		}
		if len(configs) == 0 {
			fmt.Println("No task config overrides persisted.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "FAMILY\tTIMEOUT\tRETRIES\tCACHEABLE\tTTL")
		for _, cc := range configs {
			m, _ := cc.(map[string]any)
			family, _ := m["family"].(string)
			timeout := fmtDuration(m["timeout_ms"])
			retries := fmtNum(m["max_retries"])
			cacheable := "no"
			if m["cacheable"] == true {
				cacheable = "yes"
			}
			ttl := fmtNum(m["cache_ttl_secs"])
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%ss\n", family, timeout, retries, cacheable, ttl)
		}
		_ = tw.Flush()
		return
	}

	switch args[0] {
	case "set":
		requireArgs(args, 3, "task-config set <family> <json>")
		result := doPut("/admin/v1/task-configs/"+args[1], args[2])
		if result["ok"] == true {
			fmt.Println("Task config saved.")
		}
	case "delete":
		requireArgs(args, 2, "task-config delete <family>")
		result := doDelete("/admin/v1/task-configs/" + args[1])
		if result["ok"] == true {
			fmt.Println("Task config deleted.")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown task-config command: %s\n", args[0])
		os.Exit(1)
	}
}

func doStats() {
	data := doGet("/admin/v1/stats")
	fmt.Println(prettyJSON(data))
}

func doLogs(args []string) {
	limit := parseLimit(args)
	data := doGet(fmt.Sprintf("/admin/v1/logs?limit=%d", limit))
	logs, _ := data["logs"].([]any)
	if len(logs) == 0 {
		fmt.Println("No request logs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tFAMILY\tPROVIDER\tMODEL\tLATENCY\tFALLBACKS\tCACHE\tOUTCOME")
	for _, l := range logs {
		m, _ := l.(map[string]any)
		ts := fmtTime(m["timestamp"])
		family, _ := m["task_family"].(string)
		prov, _ := m["provider"].(string)
		model, _ := m["model_id"].(string)
		lat := fmtDuration(m["latency_ms"])
		fallbacks := fmtNum(m["fallbacks"])
		cache := "-"
		if m["cache_hit"] == true {
			cache = "hit"
		}
		outcome, _ := m["outcome"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", ts, family, prov, model, lat, fallbacks, cache, outcome)
	}
	_ = tw.Flush()
}

func doAudit(args []string) {
	limit := parseLimit(args)
	data := doGet(fmt.Sprintf("/admin/v1/audit?limit=%d", limit))
	logs, _ := data["logs"].([]any)
	if len(logs) == 0 {
		fmt.Println("No audit logs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tACTION\tRESOURCE\tREQUEST ID")
	for _, l := range logs {
		m, _ := l.(map[string]any)
		ts := fmtTime(m["timestamp"])
		action, _ := m["action"].(string)
		resource, _ := m["resource"].(string)
		reqID, _ := m["request_id"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ts, action, resource, reqID)
	}
	_ = tw.Flush()
}

func doClearCaches() {
	result := doPost("/admin/v1/clear-caches", "{}")
	if result["ok"] == true {
		fmt.Println("Caches cleared and counters reset.")
	}
}

func doReload() {
	result := doPost("/admin/v1/registry/reload", "{}")
	if result["ok"] == true {
		fmt.Printf("Catalog reloaded (version %s).\n", fmtNum(result["version"]))
	}
}

func doEvents() {
	resp, err := doRequest("GET", "/admin/v1/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				var evt map[string]any
				if json.Unmarshal([]byte(payload), &evt) != nil {
					continue
				}
				evtType, _ := evt["type"].(string)
				family, _ := evt["task_family"].(string)
				provider, _ := evt["provider"].(string)
				ts := time.Now().Format("15:04:05")
				if errMsg, _ := evt["error"].(string); errMsg != "" {
					fmt.Printf("[%s] %s  family=%s provider=%s error=%s\n", ts, evtType, family, provider, errMsg)
				} else {
					fmt.Printf("[%s] %s  family=%s provider=%s latency=%s\n",
						ts, evtType, family, provider, fmtDuration(evt["latency_ms"]))
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

func doTSDB(args []string) {
	requireArgs(args, 1, "tsdb <query|metrics|prune> [args]")
	switch args[0] {
	case "metrics":
		fmt.Println(prettyJSON(doGet("/admin/v1/tsdb/metrics")))
	case "prune":
		fmt.Println(prettyJSON(doPost("/admin/v1/tsdb/prune", "{}")))
	case "query":
		qs := ""
		if len(args) > 1 {
			qs = "?" + strings.Join(args[1:], "&")
		}
		fmt.Println(prettyJSON(doGet("/admin/v1/tsdb/query" + qs)))
	default:
		fmt.Fprintf(os.Stderr, "unknown tsdb command: %s\n", args[0])
		os.Exit(1)
	}
}

// --- Formatting helpers ---

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func joinAny(v any) string {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(arr))
	for _, a := range arr {
		if s, ok := a.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ",")
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
	http.DefaultClient.Timeout = 30 * time.Second
}
