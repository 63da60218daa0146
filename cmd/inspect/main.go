package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/audit"
	"github.com/danielpatrickdp/mutation-gate/internal/ceiling"
	"github.com/danielpatrickdp/mutation-gate/internal/config"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/logging"
	"github.com/danielpatrickdp/mutation-gate/internal/probe"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the ledger db")
	host := flag.String("host", "", "host to inspect (default: every host)")
	last := flag.Int("last", 20, "show N most recent rows")
	version := flag.String("version", "", "show single version detail")
	decisions := flag.Bool("decisions", false, "list the decision log instead of versions")
	usageDB := flag.String("usage-db", "", "path to the usage db (usage mode)")
	epoch := flag.String("epoch", "", "epoch id for usage mode (default: the current hour)")
	policyPath := flag.String("policy", "", "policy file; adds ceiling headroom to usage mode")
	auditPath := flag.String("audit", "", "verify a proof artifact stream")
	healthAddr := flag.String("health", "", "check a running daemon's gRPC health")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch {
	case *healthAddr != "":
		err = runHealthMode(ctx, *healthAddr, *jsonOut)
	case *auditPath != "":
		err = runAuditMode(*auditPath, *jsonOut)
	case *usageDB != "":
		err = runUsageMode(ctx, *usageDB, *policyPath, *host, *epoch, *jsonOut)
	case *dbPath != "":
		err = runLedgerModes(ctx, *dbPath, *host, *version, *decisions, *last, *jsonOut)
	default:
		fmt.Fprintln(os.Stderr, "usage: inspect --db ledger.db [--host h] [--last N] [--version id] [--decisions] [--json]")
		fmt.Fprintln(os.Stderr, "       inspect --usage-db usage.db --host h [--epoch YYYY-MM-DDTHH] [--policy gate.yaml] [--json]")
		fmt.Fprintln(os.Stderr, "       inspect --audit proofs/artifacts.jsonl")
		fmt.Fprintln(os.Stderr, "       inspect --health localhost:9465")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runLedgerModes(ctx context.Context, dbPath, host, version string, decisions bool, last int, jsonOut bool) error {
	store, err := ledger.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	if err := logging.Migrate(store.DB()); err != nil {
		return err
	}

	switch {
	case version != "":
		return runDetailMode(ctx, store, version, jsonOut)
	case decisions:
		return runDecisionMode(ctx, store.DB(), host, last, jsonOut)
	default:
		return runListMode(ctx, store, host, last, jsonOut)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	VersionID string                `json:"version_id"`
	Host      string                `json:"host"`
	Seq       uint64                `json:"seq"`
	Action    ledger.Action         `json:"action"`
	Decision  string                `json:"decision_id,omitempty"`
	Digest    string                `json:"digest"`
	CreatedAt string                `json:"created_at"`
	Levels    map[domain.ID]float64 `json:"levels"`
}

func runListMode(ctx context.Context, store *ledger.Store, host string, last int, jsonOut bool) error {
	hosts := []string{host}
	if host == "" {
		var err error
		if hosts, err = store.Hosts(ctx); err != nil {
			return err
		}
	}

	var rows []listRow
	for _, h := range hosts {
		versions, err := store.ListVersions(ctx, h, last)
		if err != nil {
			return err
		}
		// store returns newest first; print chronologically
		for i := len(versions) - 1; i >= 0; i-- {
			v := versions[i]
			rows = append(rows, listRow{
				VersionID: v.VersionID,
				Host:      v.Host,
				Seq:       v.Seq,
				Action:    v.Action,
				Decision:  v.DecisionID,
				Digest:    v.Digest,
				CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05Z"),
				Levels:    v.Levels,
			})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}

	if jsonOut {
		return printJSON(rows)
	}
	return printListTable(rows)
}

func printListTable(rows []listRow) error {
	fmt.Printf("%-10s  %-12s  %5s  %-9s  %-10s  %-10s  %s\n",
		"Version", "Host", "Seq", "Action", "Decision", "Digest", "Time")
	fmt.Printf("%-10s+-%-12s+-%5s+-%-9s+-%-10s+-%-10s+-%s\n",
		"----------", "------------", "-----", "---------", "----------", "----------", "--------------------")

	for _, r := range rows {
		fmt.Printf("%-10s  %-12s  %5d  %-9s  %-10s  %-10s  %s\n",
			shortID(r.VersionID), r.Host, r.Seq, r.Action, shortID(r.Decision), shortID(r.Digest), r.CreatedAt)
	}

	latest := rows[len(rows)-1]
	fmt.Printf("\nDomain levels (latest, %s):\n", latest.Host)
	printLevels(latest.Levels)
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Version  ledger.Version         `json:"version"`
	Decision *logging.DecisionEntry `json:"decision,omitempty"`
}

func runDetailMode(ctx context.Context, store *ledger.Store, versionID string, jsonOut bool) error {
	v, err := store.Version(ctx, versionID)
	if err != nil {
		return err
	}
	out := detailOutput{Version: v}
	if v.DecisionID != "" {
		if e, err := logging.GetDecision(ctx, store.DB(), v.DecisionID); err == nil {
			out.Decision = &e
		}
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Version:   %s\n", v.VersionID)
	fmt.Printf("Parent:    %s\n", v.ParentID)
	fmt.Printf("Host:      %s\n", v.Host)
	fmt.Printf("Seq:       %d\n", v.Seq)
	fmt.Printf("Action:    %s\n", v.Action)
	fmt.Printf("Digest:    %s\n", v.Digest)
	fmt.Printf("Created:   %s\n", v.CreatedAt.Format("2006-01-02T15:04:05Z"))

	fmt.Printf("\nDomain levels:\n")
	printLevels(v.Levels)

	if out.Decision != nil {
		fmt.Printf("\nDecision:\n")
		fmt.Printf("  ID:        %s\n", out.Decision.DecisionID)
		fmt.Printf("  Proposal:  %s\n", out.Decision.ProposalID)
		fmt.Printf("  Domain:    %s\n", out.Decision.Domain)
		fmt.Printf("  Outcome:   %s\n", out.Decision.Outcome)
	}
	return nil
}

// #endregion detail-mode

// #region decision-mode

type decisionRow struct {
	DecisionID string `json:"decision_id"`
	ProposalID string `json:"proposal_id"`
	Host       string `json:"host"`
	Domain     string `json:"domain"`
	Outcome    string `json:"outcome"`
	Layer      string `json:"layer,omitempty"`
	Codes      string `json:"codes,omitempty"`
	VersionID  string `json:"version_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func runDecisionMode(ctx context.Context, db *sql.DB, host string, last int, jsonOut bool) error {
	entries, err := logging.ListDecisions(ctx, db, host, last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}

	rows := make([]decisionRow, len(entries))
	for i, e := range entries {
		rows[len(entries)-1-i] = decisionRow{
			DecisionID: e.DecisionID,
			ProposalID: e.ProposalID,
			Host:       e.Host,
			Domain:     e.Domain,
			Outcome:    e.Outcome,
			Layer:      e.Layer,
			Codes:      e.Codes,
			VersionID:  e.VersionID,
			CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-14s  %-16s  %-7s  %-9s  %-24s  %s\n",
		"Decision", "Proposal", "Domain", "Outcome", "Layer", "Codes", "Version")
	for _, r := range rows {
		fmt.Printf("%-10s  %-14s  %-16s  %-7s  %-9s  %-24s  %s\n",
			shortID(r.DecisionID), r.ProposalID, r.Domain, r.Outcome, dash(r.Layer), dash(r.Codes), dash(shortID(r.VersionID)))
	}
	return nil
}

// #endregion decision-mode

// #region usage-mode

type usageRow struct {
	Domain      domain.ID `json:"domain"`
	EpochID     string    `json:"epoch_id"`
	ScaleUsed   float32   `json:"scale_used"`
	EcoCostUsed float64   `json:"eco_cost_used"`
	ScaleLeft   *float32  `json:"scale_left,omitempty"`
	EcoLeft     *float64  `json:"eco_left,omitempty"`
}

func runUsageMode(ctx context.Context, path, policyPath, host, epoch string, jsonOut bool) error {
	if host == "" {
		return fmt.Errorf("usage mode needs --host")
	}
	if epoch == "" {
		epoch = domain.EpochID(time.Now())
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open usage db: %w", err)
	}
	defer db.Close()
	store, err := ceiling.NewUsageStore(db)
	if err != nil {
		return err
	}
	usage, err := store.ListEpoch(ctx, host, epoch)
	if err != nil {
		return err
	}

	var engine *admission.Engine
	if policyPath != "" {
		loaded, err := config.Load(policyPath)
		if err != nil {
			return err
		}
		if engine, err = loaded.NewEngine(); err != nil {
			return err
		}
	}

	rows := make([]usageRow, 0, len(usage))
	for d, u := range usage {
		row := usageRow{Domain: d, EpochID: u.EpochID, ScaleUsed: u.ScaleUsed, EcoCostUsed: u.EcoCostUsed}
		if engine != nil {
			if p, ok := engine.Policy(d); ok {
				scale, eco := ceiling.Headroom(p, u)
				row.ScaleLeft, row.EcoLeft = &scale, &eco
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Domain < rows[j].Domain })
	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("Usage for %s in epoch %s:\n", host, epoch)
	for _, r := range rows {
		fmt.Printf("  %-18s scale %.4f  eco %.3f", r.Domain, r.ScaleUsed, r.EcoCostUsed)
		if r.ScaleLeft != nil {
			fmt.Printf("  (left: scale %.4f  eco %.3f)", *r.ScaleLeft, *r.EcoLeft)
		}
		fmt.Println()
	}
	return nil
}

// #endregion usage-mode

// #region audit-health

func runAuditMode(path string, jsonOut bool) error {
	n, err := audit.Verify(path)
	if jsonOut {
		out := map[string]any{"path": path, "lines": n, "ok": err == nil}
		if err != nil {
			out["error"] = err.Error()
		}
		if perr := printJSON(out); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d artifacts, chain intact\n", path, n)
	return nil
}

func runHealthMode(ctx context.Context, addr string, jsonOut bool) error {
	c, err := probe.NewClient(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	out := map[string]probe.Status{}
	for _, svc := range []string{"", probe.ServiceName} {
		st, err := c.Check(ctx, svc)
		if err != nil {
			return err
		}
		name := svc
		if name == "" {
			name = "server"
		}
		out[name] = st
	}
	if jsonOut {
		return printJSON(out)
	}
	fmt.Printf("server:    %s\n", out["server"])
	fmt.Printf("admission: %s\n", out[probe.ServiceName])
	return nil
}

// #endregion audit-health

// #region output

func printLevels(levels map[domain.ID]float64) {
	ids := make([]string, 0, len(levels))
	for d := range levels {
		ids = append(ids, string(d))
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range ids {
		fmt.Printf("  %-18s %.4f\n", d, levels[domain.ID(d)])
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// #endregion output
