package pg

import (
	"database/sql"
	"fmt"
)

// Config describes one postgres endpoint. The orchestrator loads a read
// and a write endpoint from the environment; tests skip this entirely
// and hand pre-built gorm handles to NewFromGorm.
type Config struct {
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// newSqlConnection opens a raw database/sql handle, used only by the
// goose migration runner.
func newSqlConnection(config Config) (*sql.DB, error) {
	return sql.Open("postgres", config.dsn())
}
