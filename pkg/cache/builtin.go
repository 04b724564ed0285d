package cache

// Engine identifiers understood by Builtin.
const (
	EngineMemory  = "memory"
	EngineRedis   = "redis"
	EngineMongoDB = "mongodb"
)

// Builtin returns the bundled engine factories keyed by identifier.
func Builtin() map[string]Factory {
	return map[string]Factory{
		EngineMemory:  NewMemory,
		EngineRedis:   NewRedis,
		EngineMongoDB: NewMongo,
	}
}
