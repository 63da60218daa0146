package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/config"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/logging"
	"github.com/danielpatrickdp/mutation-gate/internal/replay"
)

// #region main

func main() {
	policyPath := flag.String("policy", "gate.yaml", "policy file the engine is built from")
	dbPath := flag.String("db", "", "path to the ledger db (DB mode)")
	host := flag.String("host", "", "only replay decisions for this host (DB mode)")
	last := flag.Int("last", 1000, "number of most recent decisions to replay (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --policy gate.yaml --db path/to/ledger.db [--host h] [--last N]")
		fmt.Fprintln(os.Stderr, "       replay --policy gate.yaml --fixture path/to/fixture.json")
		os.Exit(2)
	}

	loaded, err := config.Load(*policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load policy: %v\n", err)
		os.Exit(2)
	}
	engine, err := loaded.NewEngine(admission.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(engine, *fixturePath)
	} else {
		exitCode = runDBMode(engine, loaded.Digest, *dbPath, *host, *last)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-extract

func runDBMode(engine *admission.Engine, digest, dbPath, host string, last int) int {
	store, err := ledger.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()
	if err := logging.Migrate(store.DB()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 2
	}

	entries, err := logging.ListDecisions(context.Background(), store.DB(), host, last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query decisions: %v\n", err)
		return 2
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no entries found in decision_log")
		return 2
	}
	warnOnDigestDrift(entries, digest)

	f, err := replay.FromLog("decision log", entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build fixture: %v\n", err)
		return 2
	}
	results, summary := replay.Replay(engine, f.Steps)
	return printComparison(results, summary)
}

// warnOnDigestDrift flags decisions made under a different policy; their
// replay is expected to diverge.
func warnOnDigestDrift(entries []logging.DecisionEntry, digest string) {
	drift := 0
	for _, e := range entries {
		rec, err := e.Record()
		if err != nil || rec.ConfigDigest == "" {
			continue
		}
		if rec.ConfigDigest != digest {
			drift++
		}
	}
	if drift > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d of %d decisions were made under a different policy digest\n", drift, len(entries))
	}
}

// #endregion db-extract

// #region output

func runFixtureMode(engine *admission.Engine, path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	if f.Description != "" {
		fmt.Printf("Fixture: %s\n\n", f.Description)
	}
	results, summary := replay.Replay(engine, f.Steps)
	return printComparison(results, summary)
}

// printComparison outputs a comparison table and returns the exit code.
func printComparison(results []replay.Result, summary replay.Summary) int {
	fmt.Printf("%-14s| %-16s| %-20s| %-20s| %s\n", "Proposal", "Domain", "Expected", "Replayed", "Match")
	fmt.Printf("%-14s+%-17s+%-21s+%-21s+%s\n",
		"--------------", "-----------------", "---------------------", "---------------------", "------")

	for _, r := range results {
		exp := "-"
		if r.Expected != nil {
			exp = label(r.Expected.Outcome, r.Expected.Layer)
		}
		match := "OK"
		if !r.Match {
			match = "DIFF " + r.Mismatch
		}
		fmt.Printf("%-14s| %-16s| %-20s| %-20s| %s\n", r.ProposalID, r.Domain, exp, label(r.Outcome, r.Layer), match)
	}

	fmt.Printf("\nSummary: %d total, %d allowed, %d denied, %d diverge\n",
		summary.Total, summary.Allowed, summary.Denied, summary.Mismatches)
	if len(summary.ByLayer) > 0 {
		layers := make([]string, 0, len(summary.ByLayer))
		for l, n := range summary.ByLayer {
			layers = append(layers, fmt.Sprintf("%s=%d", l, n))
		}
		sort.Strings(layers)
		fmt.Printf("Denials by layer: %s\n", strings.Join(layers, " "))
	}

	if summary.Mismatches > 0 {
		return 1
	}
	return 0
}

func label(o admission.Outcome, l admission.Layer) string {
	if l == "" {
		return string(o)
	}
	return string(o) + "/" + string(l)
}

// #endregion output
