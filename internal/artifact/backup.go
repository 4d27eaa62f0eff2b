package artifact

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nataas/ipfill/internal/domain"
)

// Backups implements domain.BackupStore. Backup artifacts are delete-then-
// reinsert scripts: replaying one restores the region's row set exactly as
// captured, original timestamps and inuse flags included. They are never
// deleted by ipfill.
type Backups struct {
	// Dir is where artifacts are written. Empty means the current directory.
	Dir string
}

// Write captures records into a restore artifact named by region and capture
// time. Callers are expected to skip the call for empty regions; an empty
// capture would render a plain delete script, which is not a backup.
func (b Backups) Write(region string, capturedAt time.Time, records []domain.AddressRecord) (string, error) {
	dir := b.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.sql", region, capturedAt.UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)

	// O_EXCL guards the unique-per-capture-time naming.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create backup artifact: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "-- ipfill backup artifact\n")
	fmt.Fprintf(w, "-- region: %s\n", region)
	fmt.Fprintf(w, "-- captured: %s\n", capturedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "-- records: %d\n", len(records))
	w.WriteString("BEGIN;\n")
	fmt.Fprintf(w, "SELECT region_name FROM region WHERE region_name = %s FOR UPDATE NOWAIT;\n", quoteLiteral(region))
	fmt.Fprintf(w, "DELETE FROM ipaddress_inside_regional WHERE region = %s;\n", quoteLiteral(region))

	for i, r := range records {
		if i%insertBatchSize == 0 {
			if i > 0 {
				w.WriteString(";\n")
			}
			w.WriteString("INSERT INTO ipaddress_inside_regional (region, address, timestamp, inuse) VALUES\n")
		} else {
			w.WriteString(",\n")
		}
		fmt.Fprintf(w, "(%s, %d, '%s', %s)", quoteLiteral(r.Region), r.Address, sqlTimestamp(r.Timestamp), sqlBool(r.InUse))
	}
	if len(records) > 0 {
		w.WriteString(";\n")
	}
	w.WriteString("COMMIT;\n")

	if err := w.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write backup artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close backup artifact: %w", err)
	}

	return path, nil
}

func (b Backups) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sqlBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
