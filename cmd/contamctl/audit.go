package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	persistlog "taintgrid.ai/internal/persistence/log"
	"taintgrid.ai/internal/persistence/indexdb"
)

var auditFlags struct {
	failures bool
}

var auditCmd = &cobra.Command{
	Use:   "audit <session-dir>",
	Short: "Summarize a session's op audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := persistlog.OpFiles(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no audit files under %s", args[0])
		}
		var entries []persistlog.OpEntry
		for _, f := range files {
			es, err := persistlog.ReadOps(f)
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			entries = append(entries, es...)
		}
		summarizeOps(cmd.OutOrStdout(), entries, auditFlags.failures)
		return nil
	},
}

var snapshotsFlags struct {
	db    string
	limit int
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List snapshots recorded in a session's sqlite index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotsFlags.db == "" {
			return fmt.Errorf("missing --db")
		}
		db, err := indexdb.OpenReadOnly(snapshotsFlags.db)
		if err != nil {
			return err
		}
		defer db.Close()
		rows, err := indexdb.QuerySnapshots(cmd.Context(), db, snapshotsFlags.limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\tledger=%d (%.6g)\tregions=%d (%.6g)\t%s\n",
				r.Tick, r.SessionID, r.LedgerEntries, r.LedgerTotal, r.Regions, r.GridTotal, r.Path)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditFlags.failures, "failures", false, "also list every failed op")
	snapshotsCmd.Flags().StringVar(&snapshotsFlags.db, "db", "", "path to session.sqlite")
	snapshotsCmd.Flags().IntVar(&snapshotsFlags.limit, "limit", 20, "max rows, newest first")
	rootCmd.AddCommand(auditCmd, snapshotsCmd)
}

type opSummary struct {
	ok, failed int
	moved      float64
	clamps     int
}

func summarizeOps(w io.Writer, entries []persistlog.OpEntry, listFailures bool) {
	byOp := map[string]*opSummary{}
	var first, last uint64
	for i, e := range entries {
		if i == 0 || e.Tick < first {
			first = e.Tick
		}
		if e.Tick > last {
			last = e.Tick
		}
		s := byOp[e.Op]
		if s == nil {
			s = &opSummary{}
			byOp[e.Op] = s
		}
		if e.OK {
			s.ok++
		} else {
			s.failed++
		}
		s.moved += e.Moved
		s.clamps += e.Clamps
	}

	fmt.Fprintf(w, "%d ops, ticks %d..%d\n", len(entries), first, last)
	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		s := byOp[op]
		fmt.Fprintf(w, "  %-14s ok=%d failed=%d moved=%.6g clamps=%d\n", op, s.ok, s.failed, s.moved, s.clamps)
	}

	if !listFailures {
		return
	}
	for _, e := range entries {
		if e.OK {
			continue
		}
		fmt.Fprintf(w, "  tick=%d req=%s %s %s %s\n", e.Tick, e.ReqID, e.Op, e.Code, e.Target)
	}
}
