// Package config loads the store's runtime configuration via
// spf13/viper: environment variables under a DOGMA_ prefix, optionally
// layered atop a YAML file, with defaults for every option spec.md §6
// names.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

// Shutdown holds the graceful-shutdown window (spec.md §6's
// gracefulShutdownTimeout block).
type Shutdown struct {
	QuietPeriod time.Duration
	Timeout     time.Duration
}

// Replication holds the `replication.*` block. Method is "NONE" or
// "coordinated"; the remaining fields are only meaningful when Method is
// "coordinated".
type Replication struct {
	Method      string
	Servers     []string
	ServerID    string
	Secret      string
	Timeout     time.Duration
	NumWorkers  int
	MaxLogCount int
	MinLogAge   time.Duration

	// Nodes lists the hierarchical quorum's members, one "id:group:weight"
	// entry per node (see replication.ParseNodes). Empty means quorum is
	// not enforced -- every write is considered immediately acknowledged.
	Nodes []string
}

// Quota holds the default writeQuotaPerRepository.* block. RequestQuota
// <= 0 means unlimited.
type Quota struct {
	RequestQuota      int
	TimeWindowSeconds int
}

// Zone holds the zone.* block enabling zone-leader plugins.
type Zone struct {
	CurrentZone string
}

// Storage holds the connection parameters for the store's backing
// services.
type Storage struct {
	PostgresPrimaryDSN string
	PostgresReplicaDSN string
	PostgresDatabase   string
	MigrationsPath     string

	MongoURI      string
	MongoDatabase string

	RedisAddr string

	RabbitMQURL string
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	DataDir               string
	Ports                 []string
	NumRepositoryWorkers  int
	RepositoryCacheSize   int
	MaxRemovedRepoAge     time.Duration
	Shutdown              Shutdown
	Replication           Replication
	DefaultQuota          Quota
	Zone                  Zone
	Storage               Storage
	PurgeSweepInterval    time.Duration
	SessionPurgeGracePeriod time.Duration
}

// Load builds a Config from environment variables (DOGMA_ prefix) and,
// if configFile is non-empty, a YAML file layered beneath them.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DOGMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "read config file %s", configFile)
		}
	}

	cfg := &Config{
		DataDir:              v.GetString("dataDir"),
		Ports:                v.GetStringSlice("ports"),
		NumRepositoryWorkers: v.GetInt("numRepositoryWorkers"),
		RepositoryCacheSize:  v.GetInt("repositoryCacheSpec.maxSize"),
		MaxRemovedRepoAge:    time.Duration(v.GetInt64("maxRemovedRepositoryAgeMillis")) * time.Millisecond,
		Shutdown: Shutdown{
			QuietPeriod: time.Duration(v.GetInt64("gracefulShutdownTimeout.quietPeriodMillis")) * time.Millisecond,
			Timeout:     time.Duration(v.GetInt64("gracefulShutdownTimeout.timeoutMillis")) * time.Millisecond,
		},
		Replication: Replication{
			Method:      v.GetString("replication.method"),
			Servers:     v.GetStringSlice("replication.servers"),
			ServerID:    v.GetString("replication.serverId"),
			Secret:      v.GetString("replication.secret"),
			Timeout:     time.Duration(v.GetInt64("replication.timeoutMillis")) * time.Millisecond,
			NumWorkers:  v.GetInt("replication.numWorkers"),
			MaxLogCount: v.GetInt("replication.maxLogCount"),
			MinLogAge:   time.Duration(v.GetInt64("replication.minLogAgeMillis")) * time.Millisecond,
			Nodes:       v.GetStringSlice("replication.nodes"),
		},
		DefaultQuota: Quota{
			RequestQuota:      v.GetInt("writeQuotaPerRepository.requestQuota"),
			TimeWindowSeconds: v.GetInt("writeQuotaPerRepository.timeWindowSeconds"),
		},
		Zone: Zone{CurrentZone: v.GetString("zone.currentZone")},
		Storage: Storage{
			PostgresPrimaryDSN: v.GetString("storage.postgres.primaryDSN"),
			PostgresReplicaDSN: v.GetString("storage.postgres.replicaDSN"),
			PostgresDatabase:   v.GetString("storage.postgres.database"),
			MigrationsPath:     v.GetString("storage.postgres.migrationsPath"),
			MongoURI:           v.GetString("storage.mongo.uri"),
			MongoDatabase:      v.GetString("storage.mongo.database"),
			RedisAddr:          v.GetString("storage.redis.addr"),
			RabbitMQURL:        v.GetString("storage.rabbitmq.url"),
		},
		PurgeSweepInterval:      v.GetDuration("purge.sweepInterval"),
		SessionPurgeGracePeriod: v.GetDuration("purge.sessionGracePeriod"),
	}

	// A single env var value carries the whole list, comma-separated.
	var ports []string
	for _, p := range cfg.Ports {
		for _, s := range strings.Split(p, ",") {
			if s = strings.TrimSpace(s); s != "" {
				ports = append(ports, s)
			}
		}
	}
	cfg.Ports = ports

	if len(cfg.Ports) == 0 {
		return nil, dogmaerr.New(dogmaerr.KindStorageFault, "configuration requires at least one port")
	}

	if cfg.DataDir == "" {
		return nil, dogmaerr.New(dogmaerr.KindStorageFault, "configuration requires dataDir")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("numRepositoryWorkers", 16)
	v.SetDefault("repositoryCacheSpec.maxSize", 64)
	v.SetDefault("maxRemovedRepositoryAgeMillis", int64(time.Hour/time.Millisecond))
	v.SetDefault("gracefulShutdownTimeout.quietPeriodMillis", 1000)
	v.SetDefault("gracefulShutdownTimeout.timeoutMillis", 2000)

	v.SetDefault("replication.method", "NONE")
	v.SetDefault("replication.timeoutMillis", 10_000)
	v.SetDefault("replication.numWorkers", 16)
	v.SetDefault("replication.maxLogCount", 1024)
	v.SetDefault("replication.minLogAgeMillis", int64(24*time.Hour/time.Millisecond))

	v.SetDefault("writeQuotaPerRepository.requestQuota", 0)
	v.SetDefault("writeQuotaPerRepository.timeWindowSeconds", 1)

	v.SetDefault("storage.postgres.migrationsPath", "internal/store/postgres/migrations")
	v.SetDefault("storage.mongo.database", "dogma")

	v.SetDefault("purge.sweepInterval", time.Minute)
	v.SetDefault("purge.sessionGracePeriod", time.Hour)
}
