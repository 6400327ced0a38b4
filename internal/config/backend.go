package config

// ConfigBackend is where `hamster config set` persists values: UserDefaults
// on macOS, a JSON file under $XDG_CONFIG_HOME on other platforms. Booleans
// are stored as text and parsed on load.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
