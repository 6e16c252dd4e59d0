package cmdparse

// firstKeyMethod mirrors the cmd_keypos enum in the original C command
// table: how to locate the first key argument of a command, if any.
type firstKeyMethod int

const (
	keyNone firstKeyMethod = iota
	keyUnknown
	keyIndex
	keyNum
)

// cmddef mirrors the generated cmddef struct: name, key-lookup method and
// position, and arity (negative means "at least this many args").
type cmddef struct {
	name         string
	method       firstKeyMethod
	firstKeyPos  int
	arity        int
}

// commandTable is a representative cross-section of the real Valkey/Redis
// command table (normally generated from JSON command definitions). It
// covers every firstKeyMethod this package supports, plus the exact
// commands spec.md calls out by name (EVAL, XREAD, XREADGROUP, MIGRATE).
// Commands not listed fall back to the common case (index method, key at
// position 1) via lookupOrDefault.
var commandTable = map[string]cmddef{
	// no-key commands
	"PING":    {"PING", keyNone, 0, -1},
	"INFO":    {"INFO", keyNone, 0, -1},
	"CLUSTER": {"CLUSTER", keyNone, 0, -2},
	"COMMAND": {"COMMAND", keyNone, 0, -1},
	"AUTH":    {"AUTH", keyNone, 0, -2},
	"SELECT":  {"SELECT", keyNone, 0, 2},
	"ASKING":  {"ASKING", keyNone, 0, 1},
	"ECHO":    {"ECHO", keyNone, 0, 2},
	"SCAN":    {"SCAN", keyNone, 0, -2},
	"DBSIZE":  {"DBSIZE", keyNone, 0, 1},
	"SHUTDOWN": {"SHUTDOWN", keyNone, 0, -1},
	"SUBSCRIBE":    {"SUBSCRIBE", keyNone, 0, -2},
	"UNSUBSCRIBE":  {"UNSUBSCRIBE", keyNone, 0, -1},
	"PUBLISH":      {"PUBLISH", keyNone, 0, 3},
	"MULTI":        {"MULTI", keyNone, 0, 1},
	"EXEC":         {"EXEC", keyNone, 0, 1},
	"DISCARD":      {"DISCARD", keyNone, 0, 1},
	"SCRIPT":       {"SCRIPT", keyNone, 0, -2},
	"WAIT":         {"WAIT", keyNone, 0, 3},

	// index method: key at a fixed argv position
	"GET":           {"GET", keyIndex, 1, 2},
	"SET":           {"SET", keyIndex, 1, -3},
	"GETSET":        {"GETSET", keyIndex, 1, 3},
	"GETEX":         {"GETEX", keyIndex, 1, -2},
	"APPEND":        {"APPEND", keyIndex, 1, 3},
	"STRLEN":        {"STRLEN", keyIndex, 1, 2},
	"INCR":          {"INCR", keyIndex, 1, 2},
	"DECR":          {"DECR", keyIndex, 1, 2},
	"INCRBY":        {"INCRBY", keyIndex, 1, 3},
	"INCRBYFLOAT":   {"INCRBYFLOAT", keyIndex, 1, 3},
	"EXPIRE":        {"EXPIRE", keyIndex, 1, -3},
	"PEXPIRE":       {"PEXPIRE", keyIndex, 1, -3},
	"TTL":           {"TTL", keyIndex, 1, 2},
	"PERSIST":       {"PERSIST", keyIndex, 1, 2},
	"TYPE":          {"TYPE", keyIndex, 1, 2},
	"EXISTS":        {"EXISTS", keyIndex, 1, -2},
	"HSET":          {"HSET", keyIndex, 1, -4},
	"HGET":          {"HGET", keyIndex, 1, 3},
	"HDEL":          {"HDEL", keyIndex, 1, -3},
	"HGETALL":       {"HGETALL", keyIndex, 1, 2},
	"HINCRBY":       {"HINCRBY", keyIndex, 1, 4},
	"HINCRBYFLOAT":  {"HINCRBYFLOAT", keyIndex, 1, 4},
	"LPUSH":         {"LPUSH", keyIndex, 1, -3},
	"RPUSH":         {"RPUSH", keyIndex, 1, -3},
	"LPOP":          {"LPOP", keyIndex, 1, -2},
	"RPOP":          {"RPOP", keyIndex, 1, -2},
	"LRANGE":        {"LRANGE", keyIndex, 1, 4},
	"LLEN":          {"LLEN", keyIndex, 1, 2},
	"SADD":          {"SADD", keyIndex, 1, -3},
	"SREM":          {"SREM", keyIndex, 1, -3},
	"SMEMBERS":      {"SMEMBERS", keyIndex, 1, 2},
	"SISMEMBER":     {"SISMEMBER", keyIndex, 1, 3},
	"SINTERCARD":    {"SINTERCARD", keyUnknown, 0, -3}, // numkeys at argv[1]
	"ZADD":          {"ZADD", keyIndex, 1, -4},
	"ZSCORE":        {"ZSCORE", keyIndex, 1, 3},
	"ZRANGE":        {"ZRANGE", keyIndex, 1, -4},
	"ZRANGEBYSCORE": {"ZRANGEBYSCORE", keyIndex, 1, -4},
	"SETRANGE":      {"SETRANGE", keyIndex, 1, 4},
	"GETRANGE":      {"GETRANGE", keyIndex, 1, 4},
	"SETNX":         {"SETNX", keyIndex, 1, 3},
	"SETEX":         {"SETEX", keyIndex, 1, 4},
	"PSETEX":        {"PSETEX", keyIndex, 1, 4},
	"OBJECT":        {"OBJECT", keyIndex, 2, -2},
	"SORT":          {"SORT", keyIndex, 1, -2},
	"DUMP":          {"DUMP", keyIndex, 1, 2},
	"RESTORE":       {"RESTORE", keyIndex, 1, -4},
	"EXPIREAT":      {"EXPIREAT", keyIndex, 1, -3},
	"PEXPIREAT":     {"PEXPIREAT", keyIndex, 1, -3},
	"PTTL":          {"PTTL", keyIndex, 1, 2},
	"BITCOUNT":      {"BITCOUNT", keyIndex, 1, -2},
	"SETBIT":        {"SETBIT", keyIndex, 1, 4},
	"GETBIT":        {"GETBIT", keyIndex, 1, 3},
	"GEOADD":        {"GEOADD", keyIndex, 1, -5},
	"GEOPOS":        {"GEOPOS", keyIndex, 1, -2},
	"GEORADIUS":     {"GEORADIUS", keyIndex, 1, -6},
	"XADD":          {"XADD", keyIndex, 1, -5},
	"XLEN":          {"XLEN", keyIndex, 1, 2},
	"XRANGE":        {"XRANGE", keyIndex, 1, 4},

	// multi-key commands: routed by their first key (index method), except
	// ZMPOP/LMPOP whose argv[firstkeypos] is an ASCII count of keys (keynum)
	"MSET":      {"MSET", keyIndex, 1, -3}, // first key at pos 1 in pairs
	"MGET":      {"MGET", keyIndex, 1, -2},
	"DEL":       {"DEL", keyIndex, 1, -2},
	"UNLINK":    {"UNLINK", keyIndex, 1, -2},
	"ZMPOP":     {"ZMPOP", keyNum, 1, -4},
	"LMPOP":     {"LMPOP", keyNum, 1, -4},
	"SINTER":    {"SINTER", keyIndex, 1, -2},

	// EVAL/EVALSHA/FCALL use the keynum method (argv[2] is numkeys);
	// XREAD/XREADGROUP use the unknown method, a hard-coded keyword scan
	// (spec.md step 5)
	"EVAL":         {"EVAL", keyNum, 2, -3}, // argv[2] is numkeys
	"EVALSHA":      {"EVALSHA", keyNum, 2, -3},
	"FCALL":        {"FCALL", keyNum, 2, -3},
	"XREAD":        {"XREAD", keyUnknown, 1, -4},
	"XREADGROUP":   {"XREADGROUP", keyUnknown, 4, -7},

	// special-cased separately in Inspect: MIGRATE
	"MIGRATE": {"MIGRATE", keyIndex, 3, -6},
}

// lookupOrDefault returns the command definition for name, or a permissive
// default (index method, key at position 1) for commands absent from the
// representative table above -- so the inspector remains useful for the
// long tail of the real ~240-command table without enumerating all of it.
func lookupOrDefault(name string) cmddef {
	if def, ok := commandTable[name]; ok {
		return def
	}
	return cmddef{name: name, method: keyIndex, firstKeyPos: 1, arity: -2}
}
