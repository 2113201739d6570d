package main

// ---------------------------------------------------------------------------
// cmd_responses.go — list, inspect, and roll back threat responses, plus
// manual threat signal submission
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

type responseSummary struct {
	ResponseID   string    `json:"response_id"`
	ThreatID     string    `json:"threat_id"`
	ResponseType string    `json:"response_type"`
	Severity     string    `json:"severity"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func cmdResponses(args []string) {
	sub := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("responses", flag.ExitOnError)
	configPath := fs.String("config", "configs/default.yaml", "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKey := fs.String("api-key", "", "API key")
	limit := fs.Int("limit", 20, "Max responses to list")
	asJSON := fs.Bool("json", false, "Print raw JSON")

	switch sub {
	case "list":
		fs.Parse(args)
		base := apiBase(envConfig(*configPath), envHost(*host), envPort(*port))
		key := resolveAPIKey(*apiKey, envConfig(*configPath))

		body, err := apiGet(fmt.Sprintf("%s/api/v1/responses?limit=%d", base, *limit), key, 10*time.Second)
		if err != nil {
			errorf("listing responses: %v", err)
		}
		if *asJSON {
			fmt.Fprintln(os.Stdout, string(body))
			return
		}
		var parsed struct {
			Responses []responseSummary `json:"responses"`
			Total     int               `json:"total"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			errorf("parsing responses: %v", err)
		}
		if parsed.Total == 0 {
			fmt.Fprintln(os.Stdout, "No responses recorded.")
			return
		}
		for _, r := range parsed.Responses {
			status := r.Status
			switch status {
			case "completed":
				status = green(status)
			case "failed":
				status = red(status)
			case "rolled_back":
				status = yellow(status)
			}
			fmt.Fprintf(os.Stdout, "  %s  %-10s  %-8s  %-12s  %s\n",
				r.ResponseID, r.ResponseType, r.Severity, status,
				r.CreatedAt.Format(time.RFC3339))
		}

	case "show":
		if len(args) == 0 || args[0] == "" || args[0][0] == '-' {
			errorf("usage: aegis responses show <response-id>")
		}
		id := args[0]
		fs.Parse(args[1:])
		base := apiBase(envConfig(*configPath), envHost(*host), envPort(*port))
		key := resolveAPIKey(*apiKey, envConfig(*configPath))

		body, err := apiGet(base+"/api/v1/responses/"+id, key, 10*time.Second)
		if err != nil {
			errorf("fetching response: %v", err)
		}
		var pretty interface{}
		json.Unmarshal(body, &pretty)
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Fprintln(os.Stdout, string(out))

	case "rollback":
		if len(args) == 0 || args[0] == "" || args[0][0] == '-' {
			errorf("usage: aegis responses rollback <response-id>")
		}
		id := args[0]
		fs.Parse(args[1:])
		base := apiBase(envConfig(*configPath), envHost(*host), envPort(*port))
		key := resolveAPIKey(*apiKey, envConfig(*configPath))

		body, err := apiPost(base+"/api/v1/responses/"+id+"/rollback", nil, key, 30*time.Second)
		if err != nil {
			errorf("rolling back: %v", err)
		}
		var parsed responseSummary
		json.Unmarshal(body, &parsed)
		fmt.Fprintf(os.Stdout, "%s Response %s is now %s\n", green("✓"), parsed.ResponseID, parsed.Status)

	default:
		errorf("unknown responses subcommand %q (use list, show, or rollback)", sub)
	}
}

func cmdSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", "configs/default.yaml", "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKey := fs.String("api-key", "", "API key")
	source := fs.String("source", "", "Signal source (required)")
	severity := fs.String("severity", "low", "Severity: low, medium, high, critical")
	impact := fs.Float64("impact", 0, "Pre-computed impact score (0-100)")
	fs.Parse(args)

	if *source == "" {
		errorf("--source is required")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"source":   *source,
		"severity": *severity,
		"impact":   *impact,
	})

	base := apiBase(envConfig(*configPath), envHost(*host), envPort(*port))
	key := resolveAPIKey(*apiKey, envConfig(*configPath))

	body, err := apiPost(base+"/api/v1/responses", payload, key, 30*time.Second)
	if err != nil {
		errorf("submitting threat signal: %v", err)
	}
	var parsed responseSummary
	json.Unmarshal(body, &parsed)
	fmt.Fprintf(os.Stdout, "%s Response %s created: type %s, status %s\n",
		green("✓"), parsed.ResponseID, parsed.ResponseType, parsed.Status)
}
