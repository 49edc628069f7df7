package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"server": { "address": ":6000", "maxPlayers": 16 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, ":6000", viper.GetString("server.address"))
	assert.Equal(t, 16, viper.GetInt("server.maxPlayers"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	var notFound viper.ConfigFileNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCurrent_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg, err := Current()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./bzfslogs", cfg.LogsDir)
	assert.Equal(t, ":5154", cfg.Server.Address)
	assert.Equal(t, 100*time.Millisecond, cfg.Server.PollWait)
	assert.Equal(t, 20*time.Millisecond, cfg.Server.TickInterval)
	assert.Equal(t, 64, cfg.Server.MaxPlayers)
	assert.False(t, cfg.Server.AuditObservers)

	assert.Equal(t, 800.0, cfg.World.Size)
	assert.Equal(t, -9.81, cfg.World.Gravity)
	assert.Equal(t, 1, cfg.World.WingsJumpCount)

	assert.Equal(t, 4, cfg.Flags.MaxGrabs)
	assert.Equal(t, []string{"T"}, cfg.Flags.SingleUse)
	assert.Equal(t, 5*time.Second, cfg.Flags.TransitGrace)

	assert.True(t, cfg.Cheat.SpeedChecks)
	assert.Equal(t, 1.1, cfg.Cheat.SpeedTolerance)
	assert.Equal(t, 1.5, cfg.Cheat.Modifiers["V"])
	assert.Equal(t, 0.8, cfg.Cheat.Modifiers["BU"])

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "./audit", cfg.Storage.Memory.OutputDir)
	assert.True(t, cfg.Storage.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.Storage.SQLite.DumpInterval)

	assert.Equal(t, "bzfs", cfg.DB.Database)
	assert.False(t, cfg.Influx.Enabled)
	assert.Equal(t, "bzfs", cfg.OTel.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.OTel.BatchTimeout)
	assert.True(t, cfg.OTel.Insecure)
	assert.Equal(t, 30*time.Minute, cfg.ListServer.Interval)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval)
}

func TestCurrent_Overrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"flags": {
			"required": { "V": 2, "bu": 1 },
			"extraFlags": 5,
			"disallowed": ["g", "SW"],
			"groundTimeout": "45s"
		},
		"cheat": { "modifiers": { "V": 2.0 } },
		"storage": { "type": "sqlite", "sqlite": { "dumpInterval": "10m" } }
	}`)))

	cfg, err := Current()
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"V": 2, "BU": 1}, cfg.Flags.Required)
	assert.Equal(t, []string{"G", "SW"}, cfg.Flags.Disallowed)
	assert.Equal(t, 45*time.Second, cfg.Flags.GroundTimeout)
	assert.Equal(t, 8, cfg.Flags.PoolSize())
	assert.Equal(t, 2.0, cfg.Cheat.Modifiers["V"])
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 10*time.Minute, cfg.Storage.SQLite.DumpInterval)
}

func TestCurrent_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("BZFS_SERVER_ADDRESS", ":7000")
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg, err := Current()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)
	viper.Set("testDur", "3s")

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
	assert.Equal(t, 3*time.Second, GetDuration("testDur"))
}
