package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "dstm"

// Keys of the configuration values (environment variable: DSTM_<KEY> with '-' replaced by '_').
const (
	KeyReadBiasedThreshold = "read-biased-threshold"
	KeyPoolCapacity        = "pool-capacity"
	KeyLogLevel            = "log-level"
	KeyLogFormat           = "log-format"
	KeyMaxRetries          = "max-retries"
	KeyTimeout             = "timeout"
	KeyDirtyCheck          = "dirty-check"
	KeyReadTracking        = "read-tracking"
	KeyReadOnly            = "readonly"
	KeyExplicitRetry       = "explicit-retry"
	KeySpeculative         = "speculative"
	KeySpinCount           = "spin-count"
	KeyMaxArrayLength      = "max-array-length"
)

// InitEnv loads the env files (.env, .env.local) into the process environment.
// Missing files are ignored.
func InitEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// newViper creates a viper instance that reads DSTM_* environment variables
// and knows the defaults of every key.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv() // read in environment variables that match

	defaults := DefaultStmConfig()
	v.SetDefault(KeyReadBiasedThreshold, defaults.ReadBiasedThreshold)
	v.SetDefault(KeyPoolCapacity, defaults.PoolCapacity)
	v.SetDefault(KeyLogLevel, defaults.LogLevel)
	v.SetDefault(KeyLogFormat, defaults.LogFormat)
	v.SetDefault(KeyMaxRetries, defaults.Txn.MaxRetries)
	v.SetDefault(KeyTimeout, defaults.Txn.Timeout)
	v.SetDefault(KeyDirtyCheck, defaults.Txn.DirtyCheck)
	v.SetDefault(KeyReadTracking, defaults.Txn.ReadTracking)
	v.SetDefault(KeyReadOnly, defaults.Txn.ReadOnly)
	v.SetDefault(KeyExplicitRetry, defaults.Txn.ExplicitRetryAllowed)
	v.SetDefault(KeySpeculative, defaults.Txn.Speculative)
	v.SetDefault(KeySpinCount, defaults.Txn.SpinCount)
	v.SetDefault(KeyMaxArrayLength, defaults.Txn.MaxArrayLength)
	return v
}

// Load reads the configuration from the env files and the environment and validates it.
func Load() (*StmConfig, error) {
	InitEnv()
	return fromViper(newViper())
}

// fromViper converts the values of v into a validated StmConfig.
func fromViper(v *viper.Viper) (*StmConfig, error) {
	conf := &StmConfig{
		ReadBiasedThreshold: v.GetUint32(KeyReadBiasedThreshold),
		PoolCapacity:        v.GetInt(KeyPoolCapacity),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
		Txn: TxnConfig{
			MaxRetries:           v.GetInt(KeyMaxRetries),
			Timeout:              v.GetDuration(KeyTimeout),
			DirtyCheck:           v.GetBool(KeyDirtyCheck),
			ReadTracking:         v.GetBool(KeyReadTracking),
			ReadOnly:             v.GetBool(KeyReadOnly),
			ExplicitRetryAllowed: v.GetBool(KeyExplicitRetry),
			Speculative:          v.GetBool(KeySpeculative),
			SpinCount:            v.GetInt(KeySpinCount),
			MaxArrayLength:       v.GetInt(KeyMaxArrayLength),
		},
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
