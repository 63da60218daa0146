package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/logging"
	"github.com/danielpatrickdp/mutation-gate/internal/replay"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the ledger db")
	host := flag.String("host", "", "only export decisions for this host")
	last := flag.Int("last", 4, "number of most recent decisions to export")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/ledger.db --out path/to/fixture.json [--host h] [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *host, *last, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, host string, last int, outPath string) error {
	store, err := ledger.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	if err := logging.Migrate(store.DB()); err != nil {
		return err
	}

	entries, err := logging.ListDecisions(context.Background(), store.DB(), host, last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no decisions found in last %d entries", last)
	}
	fmt.Printf("Found %d decisions\n", len(entries))

	scope := "all hosts"
	if host != "" {
		scope = host
	}
	f, err := replay.FromLog(fmt.Sprintf("Session export: %d decisions for %s", len(entries), scope), entries)
	if err != nil {
		return err
	}
	return writeFixture(f, outPath)
}

// #endregion extract

// #region output

func writeFixture(f *replay.Fixture, outPath string) error {
	if err := replay.WriteFixture(outPath, f); err != nil {
		return err
	}
	allowed := 0
	for _, st := range f.Steps {
		if st.Expected != nil && st.Expected.Outcome == "allow" {
			allowed++
		}
	}
	fmt.Printf("Wrote fixture to %s (%d steps, %d allowed)\n", outPath, len(f.Steps), allowed)
	return nil
}

// #endregion output
