package tablechatctl

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// EvalQuestions covers lookups, filters, joins, aggregates and follow-up
// style reporting over the demo billing data.
var EvalQuestions = []string{
	"List all clients with their industries.",
	"Which clients are based in the UK?",
	"List all invoices issued in March 2024 with their statuses.",
	`Which invoices are currently marked as "Overdue"?`,
	"For each service_name in line_items, how many line items are there?",
	"List all invoices for Acme Corp with their invoice IDs, invoice dates, due dates, and statuses.",
	"Show all invoices issued to Bright Legal in February 2024, including their status and currency.",
	"For invoice I1001, list all line items with service name, quantity, unit price, tax rate, and compute the line total (including tax) for each.",
	"For each client, compute the total amount billed in 2024 (including tax) across all their invoices.",
	"Which client has the highest total billed amount in 2024, and what is that total?",
	"Across all clients, which three services generated the most revenue in 2024? Show the total revenue per service.",
	"Which invoices are overdue as of 2024-12-31? List invoice ID, client name, invoice_date, due_date, and status.",
	"Group revenue by client country: for each country, compute the total billed amount in 2024 (including tax).",
	`For the service "Contract Review", list all clients who purchased it and the total amount they paid for that service (including tax).`,
	"Considering only European clients, what are the top 3 services by total revenue (including tax) in H2 2024 (2024-07-01 to 2024-12-31)?",
}

type evalRow struct {
	Question string
	Answer   string
}

// runEval asks every question statelessly and writes a markdown table.
// Failed questions are reported in the table rather than aborting the run.
func (c *client) runEval(ctx context.Context, args []string, model string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "test_results.md", "report path, or - for stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rows := make([]evalRow, 0, len(EvalQuestions))
	for i, question := range EvalQuestions {
		_, _ = fmt.Fprintf(stderr, "[%d/%d] %s\n", i+1, len(EvalQuestions), question)
		body := map[string]any{"question": question}
		if model != "" {
			body["model"] = model
		}
		var response askResponse
		answer := ""
		if err := c.callErr(ctx, http.MethodPost, "/v1/ask", body, &response); err != nil {
			answer = "ERROR: " + err.Error()
		} else if response.Error != "" {
			answer = "ERROR: " + response.Error
		} else {
			answer = response.Answer
		}
		rows = append(rows, evalRow{Question: question, Answer: answer})
	}

	report := renderReport(rows)
	if *out == "-" {
		_, _ = io.WriteString(stdout, report)
		return 0
	}
	if err := os.WriteFile(*out, []byte(report), 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "write report: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Done -> %s\n", *out)
	return 0
}

func renderReport(rows []evalRow) string {
	var b strings.Builder
	b.WriteString("# Test Results\n\n")
	b.WriteString("| Question | Answer |\n")
	b.WriteString("|----------|--------|\n")
	for _, row := range rows {
		question := strings.ReplaceAll(row.Question, "|", `\|`)
		answer := strings.ReplaceAll(strings.ReplaceAll(row.Answer, "|", `\|`), "\n", "<br>")
		fmt.Fprintf(&b, "| %s | %s |\n", question, answer)
	}
	return b.String()
}
