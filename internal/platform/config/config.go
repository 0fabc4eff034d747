package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"blobkeeper/internal/merkle"
)

var portCmd = flag.Int("port", 3000, "HTTP server port")

type Config struct {
	ServerPort      int
	DataDirectories []string
	MetaDirectory   string
	ConfigServerUrl string
	DeploymentMode  string

	IsMaster bool

	MaxPartitionSize       int64
	CompactionDeletedRatio float64
	RepairPeriodMs         int
	CompactionPeriodMs     int
	MerkleMaxLevel         int
	WriterPoolSize         int
	WriterTaskStartDelayMs int
	WriterQueueCapacity    int
	ReplicationPortOffset  int
	SyncOnWrite            bool
}

func LoadConfig() Config {
	godotenv.Load(".env")
	return Config{
		ServerPort:      intEnv("SERVER_PORT", *portCmd),
		DataDirectories: listEnv("DATA_DIRECTORIES"),
		MetaDirectory:   os.Getenv("META_DIRECTORY"),
		ConfigServerUrl: os.Getenv("CONFIG_SERVER_URL"),
		DeploymentMode:  os.Getenv("DEPLOYMENT_MODE"),

		IsMaster: boolEnv("IS_MASTER", false),

		MaxPartitionSize:       int64(intEnv("MAX_PARTITION_SIZE", 256*1024*1024)),
		CompactionDeletedRatio: floatEnv("COMPACTION_DELETED_RATIO", 0.5),
		RepairPeriodMs:         intEnv("REPAIR_PERIOD_MS", 60000),
		CompactionPeriodMs:     intEnv("COMPACTION_PERIOD_MS", 300000),
		MerkleMaxLevel:         intEnv("MERKLE_MAX_LEVEL", merkle.MaxLevel),
		WriterPoolSize:         intEnv("WRITER_POOL_SIZE", 16),
		WriterTaskStartDelayMs: intEnv("WRITER_TASK_START_DELAY_MS", 100),
		WriterQueueCapacity:    intEnv("WRITER_QUEUE_CAPACITY", 1024),
		ReplicationPortOffset:  intEnv("REPLICATION_PORT_OFFSET", 8003),
		SyncOnWrite:            boolEnv("SYNC_ON_WRITE", false),
	}
}

func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

func floatEnv(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return value
}

func boolEnv(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return value
}

func listEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
