// Command benchmark scrapes a list of product URLs through the API and
// reports outcome, field coverage and timing per URL.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/use-agent/prodscrape/models"
)

// CLI flags
var (
	apiURL  = flag.String("api-url", "http://localhost:8080", "API base URL")
	apiKey  = flag.String("api-key", "", "API key for authenticated requests")
	urlFile = flag.String("urls", "", "file with one product URL per line (\"label url\" also accepted); default: built-in list")
	runs    = flag.Int("runs", 1, "runs per URL")
	timeout = flag.Float64("timeout", 20, "per-scrape budget in seconds")
	output  = flag.String("output", "benchmark-results.json", "JSON output file path")
)

var defaultTargets = []target{
	{"bomber", "https://www.zara.com/us/en/faux-leather-bomber-jacket-p03046320.html"},
	{"jeans", "https://www2.hm.com/en_us/productpage.1024256001.html"},
	{"sneaker", "https://www.nike.com/t/air-force-1-07-mens-shoes-jBrhbr"},
	{"dress", "https://www.asos.com/us/asos-design/asos-design-satin-slip-midi-dress/prd/203080586"},
}

type target struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type runResult struct {
	Outcome     string   `json:"outcome"`
	HTTPStatus  int      `json:"http_status"`
	Missing     []string `json:"missing_fields"`
	Winner      string   `json:"name_strategy,omitempty"`
	TotalMs     int64    `json:"total_ms"`
	ErrorCode   string   `json:"error_code,omitempty"`
	ClientError string   `json:"client_error,omitempty"`
}

type urlResult struct {
	target
	Runs     []runResult `json:"runs"`
	Coverage float64     `json:"coverage"`
	AvgMs    int64       `json:"avg_ms"`
}

type report struct {
	Timestamp time.Time   `json:"timestamp"`
	APIURL    string      `json:"api_url"`
	Results   []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	targets := defaultTargets
	if *urlFile != "" {
		f, err := os.Open(*urlFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open url file: %v\n", err)
			os.Exit(1)
		}
		targets, err = readTargets(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read url file: %v\n", err)
			os.Exit(1)
		}
	}

	client := resty.New().
		SetBaseURL(*apiURL).
		SetTimeout(time.Duration(*timeout*float64(time.Second)) + 10*time.Second)
	if *apiKey != "" {
		client.SetHeader("X-API-Key", *apiKey)
	}

	if res, err := client.R().Get("/api/v1/health"); err != nil || res.IsError() {
		fmt.Fprintf(os.Stderr, "API not reachable at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	rep := report{Timestamp: time.Now().UTC(), APIURL: *apiURL}
	for _, t := range targets {
		ur := urlResult{target: t}
		for i := 0; i < *runs; i++ {
			fmt.Fprintf(os.Stderr, "[%s] run %d/%d\n", t.Label, i+1, *runs)
			ur.Runs = append(ur.Runs, scrapeOnce(client, t.URL, *timeout))
		}
		ur.Coverage, ur.AvgMs = summarize(ur.Runs)
		rep.Results = append(rep.Results, ur)
	}

	printTable(os.Stdout, rep.Results)
	if err := writeJSON(*output, rep); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		os.Exit(1)
	}
}

// readTargets parses "url" or "label url" lines; blank lines and # comments
// are skipped.
func readTargets(r io.Reader) ([]target, error) {
	var out []target
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 1:
			out = append(out, target{Label: fmt.Sprintf("url%d", len(out)+1), URL: fields[0]})
		default:
			out = append(out, target{Label: fields[0], URL: fields[1]})
		}
	}
	return out, sc.Err()
}

func scrapeOnce(client *resty.Client, url string, timeout float64) runResult {
	var resp models.ScrapeResponse
	res, err := client.R().
		SetBody(models.ScrapeRequest{URL: url, Timeout: timeout}).
		SetResult(&resp).
		SetError(&resp).
		Post("/api/v1/scrape")
	if err != nil {
		return runResult{Outcome: string(models.OutcomeFailure), ClientError: err.Error()}
	}
	rr := runResult{
		Outcome:    string(resp.Outcome),
		HTTPStatus: res.StatusCode(),
		Missing:    resp.MissingFields,
		Winner:     resp.Attribution["product_name"],
		TotalMs:    resp.Timing.TotalMs,
	}
	if resp.Error != nil {
		rr.ErrorCode = resp.Error.Code
	}
	return rr
}

// fieldCount is the number of product record fields.
const fieldCount = 6

// summarize returns the mean share of populated fields and mean latency.
func summarize(runs []runResult) (coverage float64, avgMs int64) {
	if len(runs) == 0 {
		return 0, 0
	}
	var filled, total int64
	for _, r := range runs {
		if r.Outcome != string(models.OutcomeFailure) {
			filled += int64(fieldCount - len(r.Missing))
		}
		total += r.TotalMs
	}
	return float64(filled) / float64(fieldCount*len(runs)), total / int64(len(runs))
}

func printTable(w io.Writer, results []urlResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tOUTCOME\tCOVERAGE\tAVG MS\tNAME FROM\tMISSING")
	for _, r := range results {
		last := r.Runs[len(r.Runs)-1]
		missing := append([]string(nil), last.Missing...)
		sort.Strings(missing)
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%d\t%s\t%s\n",
			r.Label, last.Outcome, r.Coverage*100, r.AvgMs, orDash(last.Winner), orDash(strings.Join(missing, ",")))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(path string, rep report) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
