package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/model"
	"taskcal/internal/recurrence"
)

var (
	expandFile string
	expandFrom string
	expandTo   string
	expandTZ   string
	expandMax  int
)

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Print the occurrences of a task JSON file inside a window",
	Example: `  taskcal expand --file task.json --from 2026-01-01 --to 2026-01-31
  cat task.json | taskcal expand --file - --from 2026-01-01T00:00:00Z --to 2026-02-01T00:00:00Z`,
	RunE: runExpand,
}

func init() {
	expandCmd.Flags().StringVar(&expandFile, "file", "-", "Task JSON file (- for stdin)")
	expandCmd.Flags().StringVar(&expandFrom, "from", "", "Window start (RFC 3339 or YYYY-MM-DD)")
	expandCmd.Flags().StringVar(&expandTo, "to", "", "Window end, inclusive (RFC 3339 or YYYY-MM-DD)")
	expandCmd.Flags().StringVar(&expandTZ, "tz", "UTC", "IANA zone for dates and weekday arithmetic")
	expandCmd.Flags().IntVar(&expandMax, "max", recurrence.DefaultMaxOccurrences, "Safety cap on emitted occurrences")
	_ = expandCmd.MarkFlagRequired("from")
	_ = expandCmd.MarkFlagRequired("to")
}

func runExpand(cmd *cobra.Command, _ []string) error {
	loc, err := time.LoadLocation(expandTZ)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	from, err := parseCLITime(expandFrom, loc, false)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseCLITime(expandTo, loc, true)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	data, err := readInput(expandFile)
	if err != nil {
		return err
	}
	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	task.Normalize()

	res := recurrence.Expander{MaxOccurrences: expandMax}.Expand(task.In(loc), from, to)

	out := struct {
		Events    []model.Occurrence `json:"events"`
		Truncated bool               `json:"truncated"`
	}{Events: res.Occurrences, Truncated: res.Truncated}
	if out.Events == nil {
		out.Events = []model.Occurrence{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// parseCLITime accepts RFC 3339 or a date in loc; an end-of-window date
// covers the whole day.
func parseCLITime(v string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return d, nil
}
