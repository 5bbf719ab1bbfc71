package flags

var (
	// Database configuration
	DatabaseType string // sqlite or mysql
	DatabaseFile string // sqlite database file path
	DatabaseHost string
	DatabasePort string
	DatabaseUser string
	DatabasePass string
	DatabaseName string

	Listen    string
	AllowCors bool

	// JWTSecret signs the bearer tokens issued by the external auth layer.
	JWTSecret string

	// DefaultMode is the execution target used when a request does not ask
	// for one: LOCAL, REMOTE_RUNNER or REMOTE_ACTIONS.
	DefaultMode string

	// Local worker pool
	PoolSize           int
	AutomationEndpoint string

	// Remote runner target
	RunnerEndpoint string
	// WorkerSecret authenticates both the outbound runner dispatch and the
	// inbound /api/worker surface.
	WorkerSecret string
	// CallbackURL is the public base URL of this service, handed to remote
	// executors so their status callbacks can find the way back.
	CallbackURL string

	// GitHub Actions target
	GithubToken string
	GithubOwner string
	GithubRepo  string

	// Watchdog
	WatchdogInterval   int // seconds between sweeps
	ResearchMaxRunTime int // seconds a RESEARCH task may stay RUNNING
	ApplyMaxRunTime    int // seconds an APPLY task may stay RUNNING
)
