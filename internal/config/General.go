package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultAccount is the ledger account custodying the vault's assets.
	VaultAccount string
	// TreasuryAccount receives minted management-fee shares.
	TreasuryAccount string

	// ListenAddr is the bind address of the HTTP API server.
	ListenAddr string

	// KeeperInterval is the delay between keeper cycles.
	KeeperInterval time.Duration

	// AsyncSettlement selects the asynchronous vault variant when true; the
	// synchronous variant otherwise.
	AsyncSettlement bool

	// EnableDatabase toggles the PostgreSQL operation journal. When false
	// every transition is journaled to the log instead.
	EnableDatabase bool
	// DBHost is the PostgreSQL host.
	DBHost string
	// DBPort is the PostgreSQL port.
	DBPort int
	// DBUser is the PostgreSQL user.
	DBUser string
	// DBPassword is the PostgreSQL password.
	DBPassword string
	// DBName is the PostgreSQL database name.
	DBName string
	// DBSSLMode is the PostgreSQL sslmode setting.
	DBSSLMode string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultAccount, err = getEnv("LVM_VAULT_ACCOUNT")
	if err != nil {
		return err
	}

	TreasuryAccount, err = getEnv("LVM_TREASURY_ACCOUNT")
	if err != nil {
		return err
	}

	ListenAddr, err = getEnv("LVM_LISTEN_ADDR")
	if err != nil {
		return err
	}

	KeeperInterval, err = getEnvAsDuration("LVM_KEEPER_INTERVAL")
	if err != nil {
		return err
	}

	AsyncSettlement, err = getEnvAsBool("LVM_ASYNC_SETTLEMENT")
	if err != nil {
		return err
	}

	EnableDatabase, err = getEnvAsBool("LVM_ENABLE_DATABASE")
	if err != nil {
		return err
	}

	if EnableDatabase {
		if err := loadDatabaseConfig(); err != nil {
			return err
		}
	}

	log.Debug().
		Str("VaultAccount", VaultAccount).
		Str("ListenAddr", ListenAddr).
		Dur("KeeperInterval", KeeperInterval).
		Bool("AsyncSettlement", AsyncSettlement).
		Msg("Configuration loaded successfully.")

	return nil
}

func loadDatabaseConfig() error {
	var err error

	DBHost, err = getEnv("LVM_DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsInt("LVM_DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("LVM_DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("LVM_DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("LVM_DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("LVM_DB_SSLMODE")
	if err != nil {
		return err
	}

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBool retrieves an environment variable as a bool. Returns error if not set or invalid.
func getEnvAsBool(key string) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration. Returns error if not set or invalid.
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
