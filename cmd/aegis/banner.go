package main

// ---------------------------------------------------------------------------
// banner.go — banner, version, usage, and per-command help printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	return `
    ┌──────────────────────────────────────────────┐
    │  AEGIS — security response orchestration     │
    └──────────────────────────────────────────────┘
`
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "aegis v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  aegis <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-12s  %s\n", bold("up"), "Start the aegis orchestration engine and API")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("status"), "Show status and stats of a running instance")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("responses"), "List, inspect, or roll back threat responses")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("submit"), "Submit a threat signal for orchestration")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("help"), "Show help for a command")
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: configs/default.yaml, env: AEGIS_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--api-key <key>", "API key (env: AEGIS_API_KEY)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults (in-memory backends)"))
	fmt.Fprintf(w, "  aegis up\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Check a running instance"))
	fmt.Fprintf(w, "  aegis status\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Submit a high-severity threat signal"))
	fmt.Fprintf(w, "  aegis submit --source api-gateway --severity high --impact 85\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Roll back an executed response"))
	fmt.Fprintf(w, "  aegis responses rollback <response-id>\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("aegis help <command>"))
}

func cmdHelp(cmd string) {
	switch cmd {
	case "up":
		fmt.Fprintf(os.Stdout, "%s\n\n  aegis up [flags]\n\n", bold("START THE ENGINE"))
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--config <path>", "Config file path")
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--log-level <level>", "Log level override: debug, info, warn, error")
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--dry-run", "Validate config, then exit")
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--quiet, -q", "Suppress banner and non-essential output")
	case "status":
		fmt.Fprintf(os.Stdout, "%s\n\n  aegis status [flags]\n\n", bold("SHOW STATUS"))
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--host <host>", "API host override")
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--port <port>", "API port override")
	case "responses":
		fmt.Fprintf(os.Stdout, "%s\n\n  aegis responses [list|show|rollback] [id] [flags]\n\n", bold("MANAGE RESPONSES"))
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--limit <n>", "Max responses to list (default 20)")
	case "submit":
		fmt.Fprintf(os.Stdout, "%s\n\n  aegis submit [flags]\n\n", bold("SUBMIT A THREAT SIGNAL"))
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--source <name>", "Signal source (required)")
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--severity <level>", "low, medium, high, critical (default low)")
		fmt.Fprintf(os.Stdout, "  %-22s  %s\n", "--impact <0-100>", "Pre-computed impact score (optional)")
	default:
		printUsage(os.Stdout)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
