package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "bzfs.cfg.json"

// Config is the full server configuration.
type Config struct {
	LogLevel   string           `json:"logLevel" mapstructure:"logLevel"`
	LogsDir    string           `json:"logsDir" mapstructure:"logsDir"`
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	World      WorldConfig      `json:"world" mapstructure:"world"`
	Flags      FlagsConfig      `json:"flags" mapstructure:"flags"`
	Cheat      CheatConfig      `json:"cheat" mapstructure:"cheat"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`
	DB         DBConfig         `json:"db" mapstructure:"db"`
	Influx     InfluxConfig     `json:"influx" mapstructure:"influx"`
	OTel       OTelConfig       `json:"otel" mapstructure:"otel"`
	ListServer ListServerConfig `json:"listServer" mapstructure:"listServer"`
	Monitor    MonitorConfig    `json:"monitor" mapstructure:"monitor"`
}

// ServerConfig holds listener and tick loop settings.
type ServerConfig struct {
	Name           string        `json:"name" mapstructure:"name"`
	Address        string        `json:"address" mapstructure:"address"`
	TickInterval   time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	PollWait       time.Duration `json:"pollWait" mapstructure:"pollWait"`
	MaxPlayers     int           `json:"maxPlayers" mapstructure:"maxPlayers"`
	FrameRate      float64       `json:"frameRate" mapstructure:"frameRate"`
	FrameBurst     int           `json:"frameBurst" mapstructure:"frameBurst"`
	InboundBuffer  int           `json:"inboundBuffer" mapstructure:"inboundBuffer"`
	AuditObservers bool          `json:"auditObservers" mapstructure:"auditObservers"`
}

// WorldConfig holds the physical constants of the world.
type WorldConfig struct {
	Size              float64 `json:"size" mapstructure:"size"`
	Gravity           float64 `json:"gravity" mapstructure:"gravity"`
	MaxHeight         float64 `json:"maxHeight" mapstructure:"maxHeight"`
	BurrowDepth       float64 `json:"burrowDepth" mapstructure:"burrowDepth"`
	FlagAltitude      float64 `json:"flagAltitude" mapstructure:"flagAltitude"`
	TankSpeed         float64 `json:"tankSpeed" mapstructure:"tankSpeed"`
	TankRadius        float64 `json:"tankRadius" mapstructure:"tankRadius"`
	FlagRadius        float64 `json:"flagRadius" mapstructure:"flagRadius"`
	JumpVelocity      float64 `json:"jumpVelocity" mapstructure:"jumpVelocity"`
	WingsGravity      float64 `json:"wingsGravity" mapstructure:"wingsGravity"`
	WingsJumpVelocity float64 `json:"wingsJumpVelocity" mapstructure:"wingsJumpVelocity"`
	WingsJumpCount    int     `json:"wingsJumpCount" mapstructure:"wingsJumpCount"`
	LinearInertia     float64 `json:"linearInertia" mapstructure:"linearInertia"`
}

// FlagsConfig controls the flag pool.
type FlagsConfig struct {
	MaxGrabs      int            `json:"maxGrabs" mapstructure:"maxGrabs"`
	Required      map[string]int `json:"required" mapstructure:"required"`
	ExtraFlags    int            `json:"extraFlags" mapstructure:"extraFlags"`
	Disallowed    []string       `json:"disallowed" mapstructure:"disallowed"`
	SingleUse     []string       `json:"singleUse" mapstructure:"singleUse"`
	TransitGrace  time.Duration  `json:"transitGrace" mapstructure:"transitGrace"`
	GroundTimeout time.Duration  `json:"groundTimeout" mapstructure:"groundTimeout"`
}

// PoolSize is the number of flag slots the configuration needs.
func (f FlagsConfig) PoolSize() int {
	n := f.ExtraFlags
	for _, c := range f.Required {
		n += c
	}
	return n
}

// CheatConfig controls movement validation.
type CheatConfig struct {
	HeightChecks    bool               `json:"heightChecks" mapstructure:"heightChecks"`
	SpeedChecks     bool               `json:"speedChecks" mapstructure:"speedChecks"`
	SpeedTolerance  float64            `json:"speedTolerance" mapstructure:"speedTolerance"`
	VerticalEpsilon float64            `json:"verticalEpsilon" mapstructure:"verticalEpsilon"`
	Modifiers       map[string]float64 `json:"modifiers" mapstructure:"modifiers"`
}

// StorageConfig selects the audit storage backend.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds in-memory sqlite backend settings.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// WebSocketConfig holds live audit stream settings.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// OTelConfig holds OpenTelemetry log and metric export settings.
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout   time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	MetricInterval time.Duration `json:"metricInterval" mapstructure:"metricInterval"`
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `json:"insecure" mapstructure:"insecure"`
}

// ListServerConfig holds public list server registration settings.
type ListServerConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	URL           string        `json:"url" mapstructure:"url"`
	PublicAddress string        `json:"publicAddress" mapstructure:"publicAddress"`
	Description   string        `json:"description" mapstructure:"description"`
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
}

// MonitorConfig holds performance snapshot settings.
type MonitorConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./bzfslogs")

	viper.SetDefault("server.name", "bzfs")
	viper.SetDefault("server.address", ":5154")
	viper.SetDefault("server.tickInterval", "20ms")
	viper.SetDefault("server.pollWait", "100ms")
	viper.SetDefault("server.maxPlayers", 64)
	viper.SetDefault("server.frameRate", 100.0)
	viper.SetDefault("server.frameBurst", 50)
	viper.SetDefault("server.inboundBuffer", 256)
	viper.SetDefault("server.auditObservers", false)

	viper.SetDefault("world.size", 800.0)
	viper.SetDefault("world.gravity", -9.81)
	viper.SetDefault("world.maxHeight", 0.0)
	viper.SetDefault("world.burrowDepth", -1.32)
	viper.SetDefault("world.flagAltitude", 11.0)
	viper.SetDefault("world.tankSpeed", 25.0)
	viper.SetDefault("world.tankRadius", 4.32)
	viper.SetDefault("world.flagRadius", 2.5)
	viper.SetDefault("world.jumpVelocity", 19.0)
	viper.SetDefault("world.wingsGravity", -9.81)
	viper.SetDefault("world.wingsJumpVelocity", 19.0)
	viper.SetDefault("world.wingsJumpCount", 1)
	viper.SetDefault("world.linearInertia", 0.0)

	viper.SetDefault("flags.maxGrabs", 4)
	viper.SetDefault("flags.required", map[string]int{})
	viper.SetDefault("flags.extraFlags", 0)
	viper.SetDefault("flags.disallowed", []string{})
	viper.SetDefault("flags.singleUse", []string{"T"})
	viper.SetDefault("flags.transitGrace", "5s")
	viper.SetDefault("flags.groundTimeout", "0s")

	viper.SetDefault("cheat.heightChecks", true)
	viper.SetDefault("cheat.speedChecks", true)
	viper.SetDefault("cheat.speedTolerance", 1.1)
	viper.SetDefault("cheat.verticalEpsilon", 0.001)
	viper.SetDefault("cheat.modifiers", map[string]float64{"V": 1.5, "T": 1.67, "A": 2.25, "BU": 0.8})

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./audit")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./audit/bzfs.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/audit")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "bzfs")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "bzfs-metrics")
	viper.SetDefault("influx.backupDir", "./bzfslogs")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "bzfs")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "1m")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("listServer.enabled", false)
	viper.SetDefault("listServer.url", "https://my.bzflag.org/db/")
	viper.SetDefault("listServer.publicAddress", "")
	viper.SetDefault("listServer.description", "")
	viper.SetDefault("listServer.interval", "30m")

	viper.SetDefault("monitor.interval", "10s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. BZFS_ prefixed
// environment variables override file values.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("BZFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Current decodes the loaded settings. Flag abbreviations in map keys are
// upper-cased again since viper folds keys to lower case.
func Current() (Config, error) {
	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Flags.Required = upperKeys(cfg.Flags.Required)
	cfg.Cheat.Modifiers = upperKeys(cfg.Cheat.Modifiers)
	for i, a := range cfg.Flags.Disallowed {
		cfg.Flags.Disallowed[i] = strings.ToUpper(a)
	}
	for i, a := range cfg.Flags.SingleUse {
		cfg.Flags.SingleUse[i] = strings.ToUpper(a)
	}
	return cfg, nil
}

func upperKeys[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
