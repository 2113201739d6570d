package main

// ---------------------------------------------------------------------------
// cmd_status.go — query a running instance for health and stats
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "configs/default.yaml", "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKey := fs.String("api-key", "", "API key")
	asJSON := fs.Bool("json", false, "Print raw JSON")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	key := resolveAPIKey(*apiKey, *configPath)

	body, err := apiGet(base+"/health", key, 5*time.Second)
	if err != nil {
		errorf("instance not reachable at %s: %v", base, err)
	}

	stats, err := apiGet(base+"/api/v1/stats", key, 5*time.Second)
	if err != nil {
		errorf("fetching stats: %v", err)
	}

	if *asJSON {
		fmt.Fprintln(os.Stdout, string(stats))
		return
	}

	var health map[string]interface{}
	json.Unmarshal(body, &health)
	var parsed map[string]interface{}
	if err := json.Unmarshal(stats, &parsed); err != nil {
		errorf("parsing stats: %v", err)
	}

	fmt.Fprintf(os.Stdout, "%s aegis %v at %s\n\n", green("✓"), health["status"], base)
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stdout, "  %-24s %v\n", k, parsed[k])
	}
}
