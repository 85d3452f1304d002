// Package version хранит сведения о сборке, которые подставляются через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хеш коммита.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// ClientID — идентификатор клиента для исходящих соединений (Kafka client.id, Redis CLIENT SETNAME).
func ClientID(service string) string {
	return fmt.Sprintf("%s-%s", service, version)
}
