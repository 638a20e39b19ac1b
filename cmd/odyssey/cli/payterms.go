package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/payterms"
)

// PaytermsOptions defines the flags of the payterms command.
type PaytermsOptions struct {
	Term       string
	Total      string
	IssueDate  string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PaytermsInstallment is one row of the JSON output.
type PaytermsInstallment struct {
	Index      int    `json:"index"`
	OffsetDays int    `json:"offset_days"`
	DueDate    string `json:"due_date,omitempty"`
	Amount     string `json:"amount"`
}

// PaytermsSummary is the JSON output of the payterms command.
type PaytermsSummary struct {
	Term         string                `json:"term"`
	Total        string                `json:"total"`
	Fallback     bool                  `json:"fallback"`
	Installments []PaytermsInstallment `json:"installments"`
}

// ParsePaytermsFlags reads command-line flags into options.
func ParsePaytermsFlags(args []string, stdout, stderr io.Writer) (PaytermsOptions, error) {
	fs := flag.NewFlagSet("payterms", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := PaytermsOptions{Stdout: stdout, Stderr: stderr}
	fs.StringVar(&opts.Term, "term", "", "payment term text, e.g. \"30/60/90 DDL\"")
	fs.StringVar(&opts.Total, "total", "", "document total")
	fs.StringVar(&opts.IssueDate, "issue-date", "", "issue date (YYYY-MM-DD) used to print due dates")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// PaytermsCommand previews the installment plan for a term and exits 0, or 10
// when the term fell back to the default offset.
func PaytermsCommand(opts PaytermsOptions) int {
	total, err := decimal.NewFromString(strings.TrimSpace(opts.Total))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "payterms: invalid --total %q\n", opts.Total)
		return 1
	}
	var issue time.Time
	if opts.IssueDate != "" {
		if issue, err = time.Parse(time.DateOnly, opts.IssueDate); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "payterms: invalid --issue-date %q (expected YYYY-MM-DD)\n", opts.IssueDate)
			return 1
		}
	}

	plan := payterms.Parse(opts.Term, total)
	summary := PaytermsSummary{Term: opts.Term, Total: total.StringFixed(2), Fallback: plan.Fallback()}
	for i, inst := range plan.Installments {
		row := PaytermsInstallment{Index: i + 1, OffsetDays: inst.OffsetDays, Amount: inst.Amount.StringFixed(2)}
		if !issue.IsZero() {
			row.DueDate = issue.AddDate(0, 0, inst.OffsetDays).Format(time.DateOnly)
		}
		summary.Installments = append(summary.Installments, row)
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "payterms: encode json: %v\n", err)
			return 1
		}
	} else {
		renderPaytermsHuman(opts.Stdout, summary)
	}
	var warning *payterms.FallbackWarning
	if errors.As(plan.Warning, &warning) {
		_, _ = fmt.Fprintf(opts.Stderr, "payterms: %v\n", warning)
		return 10
	}
	return 0
}

func renderPaytermsHuman(out io.Writer, summary PaytermsSummary) {
	_, _ = fmt.Fprintf(out, "%q over %s: %d installment(s)\n", summary.Term, summary.Total, len(summary.Installments))
	for _, row := range summary.Installments {
		if row.DueDate != "" {
			_, _ = fmt.Fprintf(out, "  %d. +%dd (%s) %s\n", row.Index, row.OffsetDays, row.DueDate, row.Amount)
			continue
		}
		_, _ = fmt.Fprintf(out, "  %d. +%dd %s\n", row.Index, row.OffsetDays, row.Amount)
	}
}
