package config

// Etcd server hostname
const ETCD_ADDRESS = "etcd.address"

// Port for the coordinator HTTP API
const API_PORT = "api.port"

// Port for the node agent HTTP API
const AGENT_PORT = "agent.port"

// Stable identifier of this node; generated when unset
const NODE_ID = "node.id"

// On-chain provider address of this node
const NODE_ADDRESS = "node.address"

// Region and zone this node advertises
const NODE_REGION = "node.region"
const NODE_ZONE = "node.zone"

// Capacity this node advertises to coordinators
const NODE_CPU = "node.resources.cpu"
const NODE_MEMORY_MB = "node.resources.memory"
const NODE_STORAGE_MB = "node.resources.storage"

// Comma separated capability list, e.g. "tee"
const NODE_CAPABILITIES = "node.capabilities"

// IP address to advertise; defaults to the outbound interface address
const API_IP = "api.ip"

// Registry area (geographic region) this coordinator belongs to
const REGISTRY_AREA = "registry.area"

// TTL of the etcd registration lease (seconds)
const REGISTRY_TTL = "registry.ttl"

// UDP port for node status probes
const LISTEN_UDP_PORT = "registry.udp.port"

// TTL of published execution results (seconds)
const RESULT_TTL = "registry.results.ttl"

// Interval between registry monitoring rounds (seconds)
const REG_MONITORING_INTERVAL = "registry.monitoring.interval"

// Maximum total size of the image cache (bytes)
const CACHE_MAX_SIZE = "cache.images.maxsize"

// Fraction of the cache ceiling that triggers synchronous eviction
const CACHE_EVICTION_THRESHOLD = "cache.images.eviction.threshold"

// Idle time before a warm instance is drained (seconds)
const POOL_COOLDOWN = "pool.cooldown"

// Interval between warm pool cooldown sweeps (seconds)
const POOL_SWEEP_INTERVAL = "pool.sweep.interval"

// Default TTL for a resource reservation (milliseconds)
const RESERVATION_TTL_MS = "scheduler.reservation.ttl"

// Interval between reservation expiry sweeps (seconds)
const RESERVATION_SWEEP_INTERVAL = "scheduler.reservation.sweep.interval"

// Heartbeat staleness after which a node is marked offline (seconds)
const NODE_HEARTBEAT_TIMEOUT = "scheduler.heartbeat.timeout"

// Maximum number of terminal execution results retained in memory
const HISTORY_CAPACITY = "executor.history.capacity"

// Window size for the rolling cold start rate (number of executions)
const COLDSTART_WINDOW = "executor.coldstart.window"

// Default timeout for ephemeral executions (seconds)
const EXECUTION_DEFAULT_TIMEOUT = "executor.timeout.default"

// Price per CPU core second (USD)
const PRICE_CPU_SECOND = "pricing.cpu.second"

// Price per GB of memory per second (USD)
const PRICE_MEMORY_GB_SECOND = "pricing.memory.gbsecond"

// Price per GPU second (USD)
const PRICE_GPU_SECOND = "pricing.gpu.second"

// Fixed surcharge applied to cold started executions (USD)
const PRICE_COLD_START = "pricing.coldstart.penalty"

// Exposes Prometheus metrics on :2112 when true
const METRICS_ENABLED = "metrics.enabled"
