package config

// ConfigBackend is where non-secret settings live between runs: the
// `defaults` domain on macOS, a JSON file elsewhere. Secrets never pass
// through it; they go to the platform secret store.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetFloat(key string) (val float64, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetFloat(key string, val float64) error
	Delete(key string) error
}
