package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	EngineUrl            string
	TenantId             string
	RedisConfig          RedisStorageConfig
	StorageType          StorageType
	HttpPort             int
	ProbeIntervalSeconds int
	WaitIntervalSeconds  int
	JoinIntervalSeconds  int
	PersistWorkerCap     int
	CachedTypeElements   []string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
