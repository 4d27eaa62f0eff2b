//go:build integration

package provision_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nataas/ipfill/internal/artifact"
	"github.com/nataas/ipfill/internal/db"
	"github.com/nataas/ipfill/internal/domain"
)

const (
	postgresPort   = "5432/tcp"
	testUser       = "ipfill"
	testPassword   = "ipfill"
	testDatabase   = "ipfill"
	containerReady = 2 * time.Minute
)

const schemaSQL = `
CREATE TABLE region (
    region_name TEXT PRIMARY KEY
);
CREATE TABLE ipaddress_inside_regional (
    region    TEXT        NOT NULL REFERENCES region (region_name),
    address   BIGINT      NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT '1970-01-01 00:00:00+00',
    inuse     BOOLEAN     NOT NULL DEFAULT FALSE,
    PRIMARY KEY (region, address)
);
INSERT INTO region (region_name) VALUES ('us-east-1'), ('eu-west-1'), ('ap-south-1');
`

type integrationSuite struct {
	pool     *pgxpool.Pool
	postgres testcontainers.Container
}

var (
	suiteOnce sync.Once
	suite     *integrationSuite
	suiteErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()

	if suite != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Minute)
		defer closeCancel()
		suite.pool.Close()
		if err := suite.postgres.Terminate(closeCtx); err != nil {
			fmt.Printf("integration teardown failed: %v\n", err)
			if code == 0 {
				code = 1
			}
		}
	}

	os.Exit(code)
}

func getSuite(t *testing.T) *integrationSuite {
	t.Helper()

	suiteOnce.Do(func() {
		suite, suiteErr = newSuite(context.Background())
	})
	if suiteErr != nil {
		t.Fatalf("start integration suite: %v", suiteErr)
	}
	return suite
}

func newSuite(ctx context.Context) (*integrationSuite, error) {
	startCtx, cancel := context.WithTimeout(ctx, containerReady)
	defer cancel()

	container, err := testcontainers.GenericContainer(startCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPassword,
				"POSTGRES_DB":       testDatabase,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(containerReady),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	host, err := container.Host(startCtx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(startCtx, postgresPort)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testUser, testPassword, host, port.Port(), testDatabase)
	pool, err := db.NewPool(startCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if _, err := pool.Exec(startCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &integrationSuite{pool: pool, postgres: container}, nil
}

func (s *integrationSuite) service(t *testing.T) domain.ProvisionService {
	t.Helper()
	repo := db.NewInventoryRepository(s.pool, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return domain.NewProvisionService(repo, artifact.Scripts{}, artifact.Backups{Dir: t.TempDir()})
}

func (s *integrationSuite) regionRows(t *testing.T, region string) []domain.AddressRecord {
	t.Helper()
	repo := db.NewInventoryRepository(s.pool, nil)
	records, err := repo.SnapshotRegion(context.Background(), region)
	if err != nil {
		t.Fatalf("snapshot %s: %v", region, err)
	}
	return records
}

func (s *integrationSuite) clearRegion(t *testing.T, region string) {
	t.Helper()
	if _, err := s.pool.Exec(context.Background(),
		`DELETE FROM ipaddress_inside_regional WHERE region = $1`, region); err != nil {
		t.Fatalf("clear %s: %v", region, err)
	}
}

func mustRange(t *testing.T, cidr string) domain.NetworkRange {
	t.Helper()
	r, err := domain.ParseRange(cidr)
	if err != nil {
		t.Fatalf("parse %s: %v", cidr, err)
	}
	return r
}

func TestForwardProvisioningIsIdempotent(t *testing.T) {
	s := getSuite(t)
	svc := s.service(t)
	s.clearRegion(t, "us-east-1")

	input := domain.ProvisionInput{
		Region:   "us-east-1",
		Expanded: mustRange(t, "10.0.0.0/27"),
		Current:  mustRange(t, "10.0.0.0/28"),
		Strategy: domain.StrategyBulk,
	}

	first, err := svc.Provision(context.Background(), input)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Planned != 16 || first.Inserted != 16 || first.Skipped != 0 {
		t.Fatalf("first run counts: %+v", first)
	}

	second, err := svc.Provision(context.Background(), input)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 16 {
		t.Fatalf("replay must be a no-op, got %+v", second)
	}

	rows := s.regionRows(t, "us-east-1")
	if len(rows) != 16 {
		t.Fatalf("row count after replay = %d, want 16", len(rows))
	}
	for _, r := range rows {
		if r.InUse {
			t.Fatalf("freshly provisioned address %d marked inuse", r.Address)
		}
		if !r.Timestamp.Equal(domain.EpochTimestamp) {
			t.Fatalf("address %d has timestamp %v, want epoch sentinel", r.Address, r.Timestamp)
		}
	}
}

func TestRowStrategyMatchesBulkStrategy(t *testing.T) {
	s := getSuite(t)
	svc := s.service(t)
	s.clearRegion(t, "us-east-1")

	input := domain.ProvisionInput{
		Region:   "us-east-1",
		Expanded: mustRange(t, "10.1.0.0/27"),
		Current:  mustRange(t, "10.1.0.0/28"),
		Strategy: domain.StrategyRows,
	}

	result, err := svc.Provision(context.Background(), input)
	if err != nil {
		t.Fatalf("rows strategy: %v", err)
	}
	if result.Inserted != 16 || result.Skipped != 0 {
		t.Fatalf("rows strategy counts: %+v", result)
	}

	// The bulk strategy over the same delta sees every row as existing.
	input.Strategy = domain.StrategyBulk
	again, err := svc.Provision(context.Background(), input)
	if err != nil {
		t.Fatalf("bulk replay: %v", err)
	}
	if again.Inserted != 0 || again.Skipped != 16 {
		t.Fatalf("bulk replay counts: %+v", again)
	}
}

func TestLockContentionFailsFast(t *testing.T) {
	s := getSuite(t)
	svc := s.service(t)

	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin blocking tx: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT region_name FROM region WHERE region_name = $1 FOR UPDATE NOWAIT`, "eu-west-1"); err != nil {
		t.Fatalf("acquire lock in blocking tx: %v", err)
	}

	for _, strategy := range []domain.Strategy{domain.StrategyBulk, domain.StrategyRows} {
		start := time.Now()
		_, err := svc.Provision(ctx, domain.ProvisionInput{
			Region:   "eu-west-1",
			Expanded: mustRange(t, "10.2.0.0/27"),
			Current:  mustRange(t, "10.2.0.0/28"),
			Strategy: strategy,
		})
		if !errors.Is(err, domain.ErrLockContention) {
			t.Fatalf("%s strategy: expected ErrLockContention, got %v", strategy, err)
		}
		if elapsed := time.Since(start); elapsed > 10*time.Second {
			t.Fatalf("%s strategy waited %v instead of failing fast", strategy, elapsed)
		}
	}
}

func TestBackupRollbackRoundTrip(t *testing.T) {
	s := getSuite(t)
	s.clearRegion(t, "ap-south-1")

	ctx := context.Background()
	allocated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seed := []domain.AddressRecord{
		{Region: "ap-south-1", Address: 167837697, Timestamp: allocated, InUse: true},
		{Region: "ap-south-1", Address: 167837698, Timestamp: domain.EpochTimestamp, InUse: false},
	}
	for _, r := range seed {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO ipaddress_inside_regional (region, address, timestamp, inuse) VALUES ($1, $2, $3, $4)`,
			r.Region, int64(r.Address), r.Timestamp, r.InUse); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}

	svc := s.service(t)
	result, err := svc.Provision(ctx, domain.ProvisionInput{
		Region:   "ap-south-1",
		Expanded: mustRange(t, "10.3.0.0/27"),
		Current:  mustRange(t, "10.3.0.0/28"),
		Strategy: domain.StrategyBulk,
	})
	if err != nil {
		t.Fatalf("forward run: %v", err)
	}
	if !result.BackupProduced {
		t.Fatal("expected a backup for a non-empty region")
	}
	if got := len(s.regionRows(t, "ap-south-1")); got != len(seed)+16 {
		t.Fatalf("rows after forward run = %d, want %d", got, len(seed)+16)
	}

	if err := svc.Rollback(ctx, result.BackupPath); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	restored := s.regionRows(t, "ap-south-1")
	if len(restored) != len(seed) {
		t.Fatalf("rows after rollback = %d, want %d", len(restored), len(seed))
	}
	for i, r := range restored {
		if r.Address != seed[i].Address || r.InUse != seed[i].InUse || !r.Timestamp.Equal(seed[i].Timestamp) {
			t.Fatalf("restored row %d = %+v, want %+v", i, r, seed[i])
		}
	}
}

func TestUnknownRegionWritesNothing(t *testing.T) {
	s := getSuite(t)
	svc := s.service(t)

	ctx := context.Background()
	var before int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ipaddress_inside_regional`).Scan(&before); err != nil {
		t.Fatalf("count rows: %v", err)
	}

	_, err := svc.Provision(ctx, domain.ProvisionInput{
		Region:   "mars-1",
		Expanded: mustRange(t, "10.4.0.0/27"),
		Current:  mustRange(t, "10.4.0.0/28"),
		Strategy: domain.StrategyBulk,
	})
	if !errors.Is(err, domain.ErrRegionNotFound) {
		t.Fatalf("expected ErrRegionNotFound, got %v", err)
	}

	var after int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ipaddress_inside_regional`).Scan(&after); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if before != after {
		t.Fatalf("row count changed from %d to %d for an unknown region", before, after)
	}
}

