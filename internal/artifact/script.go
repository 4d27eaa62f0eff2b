// Package artifact renders provisioning deltas and region backups into
// replayable SQL artifacts. Both artifact kinds are self-contained: they open
// their own transaction, take the region's exclusive lock without waiting,
// and commit once, so replaying one is equivalent to a forward run.
package artifact

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"
)

// insertBatchSize caps the number of value tuples per INSERT statement so a
// /15 expansion does not render one multi-megabyte statement.
const insertBatchSize = 1000

// Scripts implements domain.ScriptBuilder on top of scoped temporary files.
type Scripts struct{}

// BuildInsertScript writes an idempotent bulk-insert artifact for the delta.
// Every insert carries ON CONFLICT DO NOTHING, so replaying the artifact
// against a store that already holds some of the rows is a no-op for those
// rows. The returned cleanup removes the file and may be called more than
// once.
func (Scripts) BuildInsertScript(region string, addrs iter.Seq[uint32], count int, stamp time.Time) (string, func(), error) {
	f, err := os.CreateTemp("", "ipfill-*.sql")
	if err != nil {
		return "", nil, fmt.Errorf("create script file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "-- ipfill provisioning script\n")
	fmt.Fprintf(w, "-- region: %s\n", region)
	fmt.Fprintf(w, "-- generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "-- addresses: %d\n", count)
	w.WriteString("BEGIN;\n")
	fmt.Fprintf(w, "SELECT region_name FROM region WHERE region_name = %s FOR UPDATE NOWAIT;\n", quoteLiteral(region))
	w.WriteString("SET LOCAL session_replication_role = replica;\n")

	writeInsertBatches(w, region, addrs, stamp)

	w.WriteString("SET LOCAL session_replication_role = DEFAULT;\n")
	w.WriteString("COMMIT;\n")

	if err := w.Flush(); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close script file: %w", err)
	}

	return f.Name(), cleanup, nil
}

func writeInsertBatches(w *bufio.Writer, region string, addrs iter.Seq[uint32], stamp time.Time) {
	inBatch := 0
	for addr := range addrs {
		if inBatch == 0 {
			w.WriteString("INSERT INTO ipaddress_inside_regional (region, address, timestamp, inuse) VALUES\n")
		} else {
			w.WriteString(",\n")
		}
		fmt.Fprintf(w, "(%s, %d, '%s', FALSE)", quoteLiteral(region), addr, sqlTimestamp(stamp))
		inBatch++
		if inBatch == insertBatchSize {
			w.WriteString("\nON CONFLICT (region, address) DO NOTHING;\n")
			inBatch = 0
		}
	}
	if inBatch > 0 {
		w.WriteString("\nON CONFLICT (region, address) DO NOTHING;\n")
	}
}

func sqlTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05") + "+00"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
