package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/app"
	"github.com/scottring/ParentPulse-sub002/internal/config"
	"github.com/scottring/ParentPulse-sub002/internal/domain"
	"github.com/scottring/ParentPulse-sub002/internal/identity"
	"github.com/scottring/ParentPulse-sub002/internal/rolesection"
	"github.com/scottring/ParentPulse-sub002/internal/store"
	"github.com/scottring/ParentPulse-sub002/internal/workbook"
)

const testSecret = "cli-test-secret"

var alice = domain.ActorContext{ActorID: "u_alice", ActorName: "Alice", TenantID: "fam_1"}

// useSQLite points configuration at a fresh database and history directory.
func useSQLite(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MANUAL_CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "manual.db"))
	t.Setenv("HISTORY_DIR", filepath.Join(dir, "history"))
	t.Setenv("IDENTITY_SECRET", testSecret)
	t.Setenv("REDIS_URL", "")
	t.Setenv("MEILI_URL", "")
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("GENERATION_URL", "")
}

// seed runs fn against a service on the configured database and closes it
// before the command under test opens the same file.
func seed(t *testing.T, fn func(service *app.Service)) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	service, cleanup, err := app.Bootstrap(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	fn(service)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "manualctl", cmd.Use)

	for _, name := range []string{"migrate", "token", "history", "export-sheet", "archive"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	useSQLite(t)
	_, err := run(t, "migrate", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMigrateCreatesDatabase(t *testing.T) {
	useSQLite(t)
	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite store is up to date")

	_, statErr := os.Stat(os.Getenv("SQLITE_PATH"))
	assert.NoError(t, statErr)

	out, err = run(t, "migrate", "--format", "json")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "sqlite", payload["driver"])
}

func TestConfigFileFlag(t *testing.T) {
	useSQLite(t)
	t.Setenv("STORE_DRIVER", "")
	path := filepath.Join(t.TempDir(), "manual.yaml")
	require.NoError(t, os.WriteFile(path, []byte("STORE_DRIVER: memory\n"), 0o644))

	out, err := run(t, "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "memory store is up to date")
}

func TestTokenRoundTrips(t *testing.T) {
	useSQLite(t)
	out, err := run(t, "token", "--actor", "u_alice", "--name", "Alice", "--tenant", "fam_1", "--ttl", "1h")
	require.NoError(t, err)

	actor, err := identity.Parse([]byte(testSecret), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, alice, actor)

	_, err = run(t, "token", "--actor", "u_alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")
}

func TestHistoryListsRevisions(t *testing.T) {
	useSQLite(t)
	var sectionID string
	seed(t, func(service *app.Service) {
		section, err := service.Sections().Create(context.Background(), alice, rolesection.CreateInput{
			ManualID:  "man_1",
			RoleType:  store.RoleParent,
			RoleTitle: "Mom to Sam",
		})
		require.NoError(t, err)
		sectionID = section.RoleSectionID
		_, err = service.Sections().AddTrigger(context.Background(), alice, sectionID, rolesection.TriggerInput{
			Description: "Bedtime",
			Severity:    store.SeverityModerate,
		})
		require.NoError(t, err)
	})

	out, err := run(t, "history", sectionID, "--tenant", "fam_1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, out, "Alice")

	out, err = run(t, "history", sectionID, "--tenant", "fam_1", "--limit", "1", "--format", "json")
	require.NoError(t, err)
	var payload struct {
		Commits []map[string]any `json:"commits"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Len(t, payload.Commits, 1)

	_, err = run(t, "history", sectionID, "--tenant", "fam_2")
	require.Error(t, err)
	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.KindNotAuthorized, domainErr.Kind)
}

func TestExportSheetWritesFile(t *testing.T) {
	useSQLite(t)
	var workbookID string
	seed(t, func(service *app.Service) {
		wb, err := service.Workbooks().Create(context.Background(), alice, workbook.CreateInput{
			PersonID:   "p_sam",
			PersonName: "Sam",
			ManualID:   "man_1",
			Goals:      []workbook.GoalInput{{Description: "Read together", TargetFrequency: "daily"}},
		})
		require.NoError(t, err)
		workbookID = wb.WorkbookID
	})

	target := filepath.Join(t.TempDir(), "sam.xlsx")
	out, err := run(t, "export-sheet", workbookID, "--tenant", "fam_1", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")), "xlsx is a zip archive")
}

func TestArchiveRequiresCompletedWorkbook(t *testing.T) {
	useSQLite(t)
	var workbookID string
	seed(t, func(service *app.Service) {
		wb, err := service.Workbooks().Create(context.Background(), alice, workbook.CreateInput{
			PersonID: "p_sam", PersonName: "Sam", ManualID: "man_1",
		})
		require.NoError(t, err)
		workbookID = wb.WorkbookID
	})

	_, err := run(t, "archive", workbookID, "--tenant", "fam_1")
	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "WORKBOOK_ACTIVE", domainErr.Code)

	seed(t, func(service *app.Service) {
		_, err := service.Workbooks().Complete(context.Background(), alice, workbookID)
		require.NoError(t, err)
	})

	// No archive endpoint is configured, so nothing is stored.
	out, err := run(t, "archive", workbookID, "--tenant", "fam_1")
	require.NoError(t, err)
	assert.Contains(t, out, "archive is not configured")
}

func TestTokenJSONIncludesExpiry(t *testing.T) {
	useSQLite(t)
	out, err := run(t, "token", "--actor", "u_bob", "--tenant", "fam_1", "--ttl", "2h", "--format", "json")
	require.NoError(t, err)
	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.NotEmpty(t, payload.Token)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), payload.ExpiresAt, time.Minute)

	actor, err := identity.Parse([]byte(testSecret), payload.Token)
	require.NoError(t, err)
	assert.Equal(t, "u_bob", actor.ActorName)
}
