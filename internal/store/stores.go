package store

// Stores is the top-level container for all storage backends.
type Stores struct {
	Instances InstanceStore
	Bots      BotStore
	Settings  SettingsStore
	Sessions  SessionStore

	// Close releases the underlying connection pool.
	Close func() error
}

// StoreConfig holds the parameters needed to open a storage backend.
type StoreConfig struct {
	Mode        string // "managed" (Postgres), "standalone" (SQLite), "memory"
	PostgresDSN string
	SQLitePath  string
}
