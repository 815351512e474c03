package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

var testMasterKey = hex.EncodeToString([]byte(strings.Repeat("k", 32)))

// isolateConfigEnv clears every CAMPUSID_* variable for the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "CAMPUSID_") {
			t.Setenv(k, "")
		}
	}
}

func TestFromEnv_RequiresMasterKey(t *testing.T) {
	isolateConfigEnv(t)

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMPUSID_MASTER_KEY")

	t.Setenv("CAMPUSID_MASTER_KEY", "too-short")
	_, err = FromEnv()
	require.Error(t, err)
}

func TestFromEnv_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CAMPUSID_MASTER_KEY", testMasterKey)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Len(t, cfg.MasterKey, 32)
	assert.Equal(t, 5*time.Minute, cfg.QRTTL)
	assert.Equal(t, 5, cfg.MaxFailedAttempts)
	assert.Equal(t, 5*time.Minute, cfg.SuspicionWindow)
	assert.Equal(t, 15*time.Minute, cfg.LockoutWindow)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.Equal(t, time.UTC, cfg.TimeZone)
	assert.False(t, cfg.RejectReplayedNonces)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestFromEnv_Overrides(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CAMPUSID_MASTER_KEY", testMasterKey)
	t.Setenv("CAMPUSID_ENV", "PROD")
	t.Setenv("CAMPUSID_QR_TTL", "90s")
	t.Setenv("CAMPUSID_LOCKOUT_MAX_ATTEMPTS", "3")
	t.Setenv("CAMPUSID_SNAPSHOT_TTL", "not-a-duration")
	t.Setenv("CAMPUSID_KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("CAMPUSID_REJECT_REPLAYED_NONCES", "1")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 90*time.Second, cfg.QRTTL)
	assert.Equal(t, 3, cfg.MaxFailedAttempts)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL, "bad duration falls back to default")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RejectReplayedNonces)
}

func TestFromEnv_BadTimeZone(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CAMPUSID_MASTER_KEY", testMasterKey)
	t.Setenv("CAMPUSID_TIMEZONE", "Mars/Olympus_Mons")

	_, err := FromEnv()
	assert.Error(t, err)
}

// ── Role policy ─────────────────────────────────────────────────────────────

func TestLoadRolePolicy_EmbeddedDefaults(t *testing.T) {
	p, err := LoadRolePolicy("")
	require.NoError(t, err)

	student := p.Resolve("Student")
	assert.Equal(t, types.AccessLevelStandard, student.AccessLevel)
	require.NotEmpty(t, student.Permissions)
	assert.Equal(t, "library-main", student.Permissions[0].FacilityID)
	require.NotNil(t, student.Permissions[0].TimeRestriction)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, student.Permissions[0].TimeRestriction.DaysOfWeek)

	unknown := p.Resolve("contractor")
	assert.Equal(t, types.AccessLevelBasic, unknown.AccessLevel)
	assert.Empty(t, unknown.Permissions)
	assert.Equal(t, 24*time.Hour, unknown.ValidFor)
}

func TestLoadRolePolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
unmapped:
  accessLevel: basic
  validFor: 1h
roles:
  visitor:
    accessLevel: basic
    validFor: 8h
    permissions:
      - facilityId: lobby
        facilityName: Lobby
`), 0o600))

	p, err := LoadRolePolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, p.Resolve("visitor").ValidFor)
	assert.ElementsMatch(t, []string{"visitor"}, p.Roles())
}

func TestParseRolePolicy_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad level": `
unmapped: {accessLevel: gold, validFor: 1h}`,
		"missing validFor": `
unmapped: {accessLevel: basic}`,
		"duplicate facility": `
unmapped: {accessLevel: basic, validFor: 1h}
roles:
  student:
    accessLevel: standard
    validFor: 1h
    permissions:
      - {facilityId: a, facilityName: A}
      - {facilityId: a, facilityName: A again}`,
		"bad clock": `
unmapped: {accessLevel: basic, validFor: 1h}
roles:
  student:
    accessLevel: standard
    validFor: 1h
    permissions:
      - facilityId: a
        facilityName: A
        accessType: time_limited
        timeRestriction: {startTime: "7:00", endTime: "22:00"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRolePolicy([]byte(doc))
			assert.Error(t, err)
		})
	}
}
