package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "egorecorder.cfg.json"

// SamplerConfig controls neighbor sampling.
type SamplerConfig struct {
	Radius      float64 `json:"radius" mapstructure:"radius"`
	Neighbors   int     `json:"neighbors" mapstructure:"neighbors"`
	SampleEvery int     `json:"sampleEvery" mapstructure:"sampleEvery"`
}

// SimConfig holds simulator connection and scenario settings.
type SimConfig struct {
	Host             string        `json:"host" mapstructure:"host"`
	Port             int           `json:"port" mapstructure:"port"`
	TMPort           int           `json:"tmPort" mapstructure:"tmPort"`
	Map              string        `json:"map" mapstructure:"map"`
	Sync             bool          `json:"sync" mapstructure:"sync"`
	FixedDelta       time.Duration `json:"fixedDelta" mapstructure:"fixedDelta"`
	Hybrid           bool          `json:"hybrid" mapstructure:"hybrid"`
	Vehicles         int           `json:"vehicles" mapstructure:"vehicles"`
	Walkers          int           `json:"walkers" mapstructure:"walkers"`
	Filter           string        `json:"filter" mapstructure:"filter"`
	WalkerFilter     string        `json:"walkerFilter" mapstructure:"walkerFilter"`
	Safe             bool          `json:"safe" mapstructure:"safe"`
	EgoAutopilot     bool          `json:"egoAutopilot" mapstructure:"egoAutopilot"`
	Velocity         float64       `json:"velocity" mapstructure:"velocity"`
	CoordinationRead bool          `json:"coordinationRead" mapstructure:"coordinationRead"`
	CoordinationFile string        `json:"coordinationFile" mapstructure:"coordinationFile"`
	Ticks            int           `json:"ticks" mapstructure:"ticks"`
	DebugDraw        bool          `json:"debugDraw" mapstructure:"debugDraw"`
	Seed             int64         `json:"seed" mapstructure:"seed"`
}

// CSVConfig holds the dataset file settings.
type CSVConfig struct {
	OutputDir     string `json:"outputDir" mapstructure:"outputDir"`
	VehiclesFile  string `json:"vehiclesFile" mapstructure:"vehiclesFile"`
	CollisionFile string `json:"collisionFile" mapstructure:"collisionFile"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB connection settings
type InfluxConfig struct {
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// StorageConfig selects and configures the storage backends. More than one
// type fans writes out to every backend.
type StorageConfig struct {
	Types    []string       `json:"types" mapstructure:"types"`
	CSV      CSVConfig      `json:"csv" mapstructure:"csv"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
	Influx   InfluxConfig   `json:"influx" mapstructure:"influx"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// UploadConfig holds S3-compatible object storage settings for finished datasets.
type UploadConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"accessKey" mapstructure:"accessKey"`
	SecretKey string `json:"secretKey" mapstructure:"secretKey"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix" mapstructure:"prefix"`
	UseSSL    bool   `json:"useSSL" mapstructure:"useSSL"`
}

// GeoConfig anchors the simulator frame on the globe. An empty Origin keeps
// positions in simulator meters.
type GeoConfig struct {
	Origin string `json:"origin" mapstructure:"origin"`
}

// MonitorConfig controls the periodic status report.
type MonitorConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("sampler.radius", 50.0)
	viper.SetDefault("sampler.neighbors", 15)
	viper.SetDefault("sampler.sampleEvery", 20)

	viper.SetDefault("sim.host", "127.0.0.1")
	viper.SetDefault("sim.port", 2000)
	viper.SetDefault("sim.tmPort", 8000)
	viper.SetDefault("sim.map", "Town04")
	viper.SetDefault("sim.sync", false)
	viper.SetDefault("sim.fixedDelta", "50ms")
	viper.SetDefault("sim.hybrid", false)
	viper.SetDefault("sim.vehicles", 10)
	viper.SetDefault("sim.walkers", 50)
	viper.SetDefault("sim.filter", "vehicle.*")
	viper.SetDefault("sim.walkerFilter", "walker.pedestrian.*")
	viper.SetDefault("sim.safe", false)
	viper.SetDefault("sim.egoAutopilot", false)
	viper.SetDefault("sim.velocity", 80.0)
	viper.SetDefault("sim.coordinationRead", true)
	viper.SetDefault("sim.coordinationFile", "./Datasets/map04_coordination_1.csv")
	viper.SetDefault("sim.ticks", 0)
	viper.SetDefault("sim.debugDraw", true)
	viper.SetDefault("sim.seed", 0)

	viper.SetDefault("storage.types", []string{"csv"})
	viper.SetDefault("storage.csv.outputDir", "./Datasets")
	viper.SetDefault("storage.csv.vehiclesFile", "vehicles_info_car50_velo80_autopilot.csv")
	viper.SetDefault("storage.csv.collisionFile", "collision_info_car50_velo80_autopilot.csv")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./recordings/egorecorder.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "egorecorder")
	viper.SetDefault("storage.influx.protocol", "http")
	viper.SetDefault("storage.influx.host", "localhost")
	viper.SetDefault("storage.influx.port", "8086")
	viper.SetDefault("storage.influx.token", "supersecrettoken")
	viper.SetDefault("storage.influx.org", "egorecorder")
	viper.SetDefault("storage.influx.bucket", "snapshots")
	viper.SetDefault("storage.influx.backupPath", "./recordings/influx_backup.lp.gz")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "egorecorder")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("upload.enabled", false)
	viper.SetDefault("upload.endpoint", "localhost:9000")
	viper.SetDefault("upload.accessKey", "")
	viper.SetDefault("upload.secretKey", "")
	viper.SetDefault("upload.bucket", "datasets")
	viper.SetDefault("upload.prefix", "")
	viper.SetDefault("upload.useSSL", false)

	viper.SetDefault("geo.origin", "")

	viper.SetDefault("monitor.interval", "10s")
	viper.SetDefault("monitor.statusFile", "")
}

// Load sets default values and reads the JSON config file from configDir.
// A missing file is not an error; defaults and flags apply.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// flag name -> viper key
var flagKeys = map[string]string{
	"host":               "sim.host",
	"port":               "sim.port",
	"tm-port":            "sim.tmPort",
	"map":                "sim.map",
	"sync":               "sim.sync",
	"hybrid":             "sim.hybrid",
	"number-of-vehicles": "sim.vehicles",
	"number-of-walkers":  "sim.walkers",
	"filterv":            "sim.filter",
	"filterw":            "sim.walkerFilter",
	"safe":               "sim.safe",
	"ego-auto":           "sim.egoAutopilot",
	"velocity":           "sim.velocity",
	"coordination-read":  "sim.coordinationRead",
	"coord-file":         "sim.coordinationFile",
	"ticks":              "sim.ticks",
	"seed":               "sim.seed",
	"file-name":          "storage.csv.vehiclesFile",
	"collision-file":     "storage.csv.collisionFile",
	"output-dir":         "storage.csv.outputDir",
	"storage":            "storage.types",
	"radius":             "sampler.radius",
	"neighbors":          "sampler.neighbors",
	"sample-every":       "sampler.sampleEvery",
	"log-level":          "logLevel",
}

// RegisterFlags defines the command-line flags on fs. Call BindFlags after
// parsing so explicitly set flags override the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "IP of the simulator host")
	fs.IntP("port", "p", 2000, "simulator TCP port")
	fs.Int("tm-port", 8000, "traffic manager port")
	fs.StringP("map", "m", "Town04", "map to load")
	fs.Bool("sync", false, "run the simulator in synchronous mode")
	fs.Bool("hybrid", false, "enable traffic manager hybrid physics")
	fs.IntP("number-of-vehicles", "n", 10, "number of vehicles, ego included")
	fs.IntP("number-of-walkers", "w", 50, "number of walkers")
	fs.String("filterv", "vehicle.*", "vehicle blueprint filter")
	fs.String("filterw", "walker.pedestrian.*", "walker blueprint filter")
	fs.Bool("safe", false, "avoid vehicles prone to accidents")
	fs.Bool("ego-auto", false, "let the traffic manager change lanes for the ego vehicle")
	fs.Float64("velocity", 80, "target velocity in km/h")
	fs.BoolP("coordination-read", "r", true, "place vehicles from the lane table")
	fs.String("coord-file", "./Datasets/map04_coordination_1.csv", "lane table to load")
	fs.Int("ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	fs.Int64("seed", 0, "random seed for blueprint choice, spawn points and ego lane changes")
	fs.String("file-name", "vehicles_info_car50_velo80_autopilot.csv", "neighbor dataset file name")
	fs.String("collision-file", "collision_info_car50_velo80_autopilot.csv", "collision dataset file name")
	fs.String("output-dir", "./Datasets", "dataset directory")
	fs.StringSlice("storage", []string{"csv"}, "storage backends (csv, memory, sqlite, postgres, influx)")
	fs.Float64("radius", 50, "neighbor inclusion radius in meters")
	fs.Int("neighbors", 15, "neighbor slots per row")
	fs.Int("sample-every", 20, "ticks between samples")
	fs.String("log-level", "info", "log level")
}

// BindFlags binds the flags registered by RegisterFlags to their viper keys.
func BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
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

// GetSamplerConfig returns the sampler settings.
func GetSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Radius:      viper.GetFloat64("sampler.radius"),
		Neighbors:   viper.GetInt("sampler.neighbors"),
		SampleEvery: viper.GetInt("sampler.sampleEvery"),
	}
}

// GetSimConfig returns the simulator settings.
func GetSimConfig() SimConfig {
	return SimConfig{
		Host:             viper.GetString("sim.host"),
		Port:             viper.GetInt("sim.port"),
		TMPort:           viper.GetInt("sim.tmPort"),
		Map:              viper.GetString("sim.map"),
		Sync:             viper.GetBool("sim.sync"),
		FixedDelta:       viper.GetDuration("sim.fixedDelta"),
		Hybrid:           viper.GetBool("sim.hybrid"),
		Vehicles:         viper.GetInt("sim.vehicles"),
		Walkers:          viper.GetInt("sim.walkers"),
		Filter:           viper.GetString("sim.filter"),
		WalkerFilter:     viper.GetString("sim.walkerFilter"),
		Safe:             viper.GetBool("sim.safe"),
		EgoAutopilot:     viper.GetBool("sim.egoAutopilot"),
		Velocity:         viper.GetFloat64("sim.velocity"),
		CoordinationRead: viper.GetBool("sim.coordinationRead"),
		CoordinationFile: viper.GetString("sim.coordinationFile"),
		Ticks:            viper.GetInt("sim.ticks"),
		DebugDraw:        viper.GetBool("sim.debugDraw"),
		Seed:             viper.GetInt64("sim.seed"),
	}
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Types: viper.GetStringSlice("storage.types"),
		CSV: CSVConfig{
			OutputDir:     viper.GetString("storage.csv.outputDir"),
			VehiclesFile:  viper.GetString("storage.csv.vehiclesFile"),
			CollisionFile: viper.GetString("storage.csv.collisionFile"),
		},
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
		Influx: InfluxConfig{
			Protocol:   viper.GetString("storage.influx.protocol"),
			Host:       viper.GetString("storage.influx.host"),
			Port:       viper.GetString("storage.influx.port"),
			Token:      viper.GetString("storage.influx.token"),
			Org:        viper.GetString("storage.influx.org"),
			Bucket:     viper.GetString("storage.influx.bucket"),
			BackupPath: viper.GetString("storage.influx.backupPath"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetUploadConfig returns the dataset upload settings.
func GetUploadConfig() UploadConfig {
	return UploadConfig{
		Enabled:   viper.GetBool("upload.enabled"),
		Endpoint:  viper.GetString("upload.endpoint"),
		AccessKey: viper.GetString("upload.accessKey"),
		SecretKey: viper.GetString("upload.secretKey"),
		Bucket:    viper.GetString("upload.bucket"),
		Prefix:    viper.GetString("upload.prefix"),
		UseSSL:    viper.GetBool("upload.useSSL"),
	}
}

// GetGeoConfig returns the geographic projection settings.
func GetGeoConfig() GeoConfig {
	return GeoConfig{
		Origin: viper.GetString("geo.origin"),
	}
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}
