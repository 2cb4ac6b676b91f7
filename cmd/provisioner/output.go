package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"provisioner/internal/model"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", f)
}

// encode writes v as JSON or YAML. table falls through to the caller.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = w.Write(data)
		return true, err
	}
	return false, nil
}

func printFailures(w io.Writer, format string, list []model.FailureRecord) error {
	if done, err := encode(w, format, list); done {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "no failures")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDERREF\tTYPE\tRETRIES\tLAST FAILURE\tRESOLVED\tERROR")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\t%s\n",
			r.OrderRef, r.Category, r.RetryCount, r.Timestamp.Format(time.DateTime), r.Resolved, oneLine(r.ErrorMessage, 60))
	}
	return tw.Flush()
}

func printFailure(w io.Writer, format string, r *model.FailureRecord) error {
	if done, err := encode(w, format, r); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Order ref:\t%s\n", r.OrderRef)
	fmt.Fprintf(tw, "Type:\t%s\n", r.Category)
	fmt.Fprintf(tw, "Error:\t%s\n", oneLine(r.ErrorMessage, 200))
	fmt.Fprintf(tw, "First failure:\t%s\n", r.FirstFailure.Format(time.DateTime))
	fmt.Fprintf(tw, "Last failure:\t%s\n", r.Timestamp.Format(time.DateTime))
	fmt.Fprintf(tw, "Retries:\t%d\n", r.RetryCount)
	fmt.Fprintf(tw, "Resolved:\t%t\n", r.Resolved)
	if r.ResolvedTimestamp != nil {
		fmt.Fprintf(tw, "Resolved at:\t%s\n", r.ResolvedTimestamp.Format(time.DateTime))
	}
	if r.ResolutionNote != "" {
		fmt.Fprintf(tw, "Note:\t%s\n", r.ResolutionNote)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if r.Snapshot != nil {
		fmt.Fprintf(w, "\n%s", r.Snapshot.ContactSummary())
	}
	return nil
}

func printStats(w io.Writer, format string, st model.FailureStats) error {
	if done, err := encode(w, format, st); done {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", st.Total)
	fmt.Fprintf(tw, "Unresolved:\t%d\n", st.Unresolved)
	fmt.Fprintf(tw, "Resolved:\t%d\n", st.Resolved)
	fmt.Fprintf(tw, "Retries:\t%d\n", st.TotalRetries)

	cats := make([]string, 0, len(st.ByCategory))
	for c := range st.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(tw, "  %s:\t%d\n", c, st.ByCategory[model.FailureCategory(c)])
	}
	return tw.Flush()
}

func oneLine(s string, limit int) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
		if len(out) == limit {
			return string(out) + "..."
		}
	}
	return string(out)
}
