package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// TraceSummary aggregates a trace file written by `dplang run --trace`.
type TraceSummary struct {
	RunIDs        []string       `json:"runIds"`
	TotalEvents   int            `json:"totalEvents"`
	Rows          int            `json:"rows"`
	Emitted       int            `json:"emitted"`
	Failed        int            `json:"failed"`
	Recovered     int            `json:"recovered"`
	ErrorsByKind  map[string]int `json:"errorsByKind"`
	FnCalls       int            `json:"fnCalls"`
	FnCallsByName map[string]int `json:"fnCallsByName"`
	PackageLoads  int            `json:"packageLoads"`
	Exits         int            `json:"exits"`
	StartTime     string         `json:"startTime,omitempty"`
	EndTime       string         `json:"endTime,omitempty"`
	DurationMs    float64        `json:"durationMs"`
}

type traceLine struct {
	Event string         `json:"event"`
	RunID string         `json:"runId"`
	TS    string         `json:"ts"`
	Data  map[string]any `json:"data,omitempty"`
}

func newTraceCmd(a *app) *cobra.Command {
	var text bool
	cmd := &cobra.Command{
		Use:   "trace <trace.ndjson>",
		Short: "Summarize a trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return a.fail(cmd, ExitUsage, ioDiag("cannot read file: %s", args[0]))
			}
			defer f.Close()

			summary, err := summarizeTrace(f)
			if err != nil {
				return a.fail(cmd, ExitUsage, ioDiag("reading trace: %v", err))
			}
			if text {
				printTraceSummary(cmd.OutOrStdout(), summary)
				return nil
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
		},
	}
	cmd.Flags().BoolVar(&text, "text", false, "human readable summary instead of JSON")
	return cmd
}

// summarizeTrace reads NDJSON trace events. Lines that are not valid
// events are skipped.
func summarizeTrace(r io.Reader) (*TraceSummary, error) {
	s := &TraceSummary{
		RunIDs:        []string{},
		ErrorsByKind:  make(map[string]int),
		FnCallsByName: make(map[string]int),
	}
	seen := make(map[string]bool)
	var start, end time.Time

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev traceLine
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Event == "" {
			continue
		}

		s.TotalEvents++
		if ev.RunID != "" && !seen[ev.RunID] {
			seen[ev.RunID] = true
			s.RunIDs = append(s.RunIDs, ev.RunID)
		}

		switch ev.Event {
		case "run_start":
			if ts, err := time.Parse(time.RFC3339Nano, ev.TS); err == nil && (start.IsZero() || ts.Before(start)) {
				start = ts
			}
		case "run_end":
			if ts, err := time.Parse(time.RFC3339Nano, ev.TS); err == nil && ts.After(end) {
				end = ts
			}
		case "row_start":
			s.Rows++
		case "row_end":
			if emitted, _ := ev.Data["emitted"].(bool); emitted {
				s.Emitted++
			}
			if _, failed := ev.Data["error"]; failed {
				s.Failed++
			}
		case "error_handled":
			s.Recovered++
			if kind, ok := ev.Data["kind"].(string); ok {
				s.ErrorsByKind[kind]++
			}
		case "fn_call_start":
			s.FnCalls++
			if name, ok := ev.Data["fn"].(string); ok {
				s.FnCallsByName[name]++
			}
		case "package_load":
			s.PackageLoads++
		case "exit":
			s.Exits++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !start.IsZero() {
		s.StartTime = start.Format(time.RFC3339Nano)
	}
	if !end.IsZero() {
		s.EndTime = end.Format(time.RFC3339Nano)
	}
	if !start.IsZero() && !end.IsZero() {
		s.DurationMs = float64(end.Sub(start).Microseconds()) / 1000
	}
	return s, nil
}

func printTraceSummary(w io.Writer, s *TraceSummary) {
	fmt.Fprintf(w, "Runs: %s\n", strings.Join(s.RunIDs, ", "))
	fmt.Fprintf(w, "Events: %d\n", s.TotalEvents)
	fmt.Fprintf(w, "Rows: %d (%d emitted, %d failed, %d recovered)\n", s.Rows, s.Emitted, s.Failed, s.Recovered)
	for _, kind := range sortedKeys(s.ErrorsByKind) {
		fmt.Fprintf(w, "  %s: %d\n", kind, s.ErrorsByKind[kind])
	}
	fmt.Fprintf(w, "Function calls: %d\n", s.FnCalls)
	for _, name := range sortedKeys(s.FnCallsByName) {
		fmt.Fprintf(w, "  %s: %d\n", name, s.FnCallsByName[name])
	}
	if s.PackageLoads > 0 {
		fmt.Fprintf(w, "Packages loaded: %d\n", s.PackageLoads)
	}
	if s.Exits > 0 {
		fmt.Fprintf(w, "Exits: %d\n", s.Exits)
	}
	if s.DurationMs > 0 {
		fmt.Fprintf(w, "Duration: %.1fms\n", s.DurationMs)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
