// Command replay reads a trade audit JSONL file and prints per-model and
// per-session acceptance stats. Useful for reviewing a day's run without
// spinning up the trader.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/futurekit/tradecore/internal/outbox"
)

type bucket struct {
	attempts int
	executed int
	rejects  map[string]int
}

func main() {
	var (
		path    = flag.String("audit", "data/trades.jsonl", "path to trade audit JSONL")
		reasons = flag.Bool("reasons", false, "print per-model rejection reasons")
	)
	flag.Parse()

	records, err := outbox.ReadAll(*path)
	if err != nil {
		log.Fatalf("read audit: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("no records")
		return
	}

	byModel := map[string]*bucket{}
	bySession := map[string]*bucket{}
	for _, rec := range records {
		tally(byModel, rec.Model, rec)
		tally(bySession, rec.SessionKey, rec)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tATTEMPTS\tEXECUTED\tRATE")
	for _, name := range sortedKeys(byModel) {
		b := byModel[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\n", name, b.attempts, b.executed, rate(b))
	}
	fmt.Fprintln(w, "\nSESSION\tATTEMPTS\tEXECUTED\tRATE")
	for _, name := range sortedKeys(bySession) {
		b := bySession[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\n", name, b.attempts, b.executed, rate(b))
	}
	w.Flush()

	if *reasons {
		fmt.Println("\nrejection reasons:")
		for _, name := range sortedKeys(byModel) {
			for reason, n := range byModel[name].rejects {
				fmt.Printf("  %s: %dx %s\n", name, n, reason)
			}
		}
	}
}

func tally(m map[string]*bucket, key string, rec outbox.TradeRecord) {
	if key == "" {
		key = "(none)"
	}
	b, ok := m[key]
	if !ok {
		b = &bucket{rejects: map[string]int{}}
		m[key] = b
	}
	b.attempts++
	if rec.Executed {
		b.executed++
	} else if rec.Reason != "" {
		b.rejects[rec.Reason]++
	}
}

func rate(b *bucket) float64 {
	if b.attempts == 0 {
		return 0
	}
	return float64(b.executed) / float64(b.attempts) * 100
}

func sortedKeys(m map[string]*bucket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
