package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dSTM/lib/orec"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// NoTimeout disables the timeout of blocking retries.
	NoTimeout time.Duration = -1

	DefaultMaxRetries     = 1000
	DefaultSpinCount      = 16
	DefaultMaxArrayLength = 20
	DefaultPoolCapacity   = 256
)

// --------------------------------------------------------------------------
// Transaction configuration
// --------------------------------------------------------------------------

// TxnConfig configures the transactions of one template.
// TxnConfig is a value type, the With* methods return modified copies.
type TxnConfig struct {
	// MaxRetries is the maximum number of attempts of one logical transaction
	MaxRetries int
	// Timeout is the budget for blocking retries of one logical transaction (NoTimeout = unlimited)
	Timeout time.Duration
	// DirtyCheck skips the publication of writes that did not change the value
	DirtyCheck bool
	// ReadTracking attaches plain reads to the transaction (required for blocking retries)
	ReadTracking bool
	// ReadOnly rejects every write
	ReadOnly bool
	// ExplicitRetryAllowed allows blocking retries
	ExplicitRetryAllowed bool
	// Speculative lets the executor start with the cheapest transaction variant and learn from failures
	Speculative bool
	// SpinCount is the number of times opening a locked object is retried before a conflict is reported
	SpinCount int
	// MaxArrayLength is the largest array variant, larger transactions use the tree variant
	MaxArrayLength int
}

// DefaultTxnConfig returns the default transaction configuration.
func DefaultTxnConfig() TxnConfig {
	return TxnConfig{
		MaxRetries:           DefaultMaxRetries,
		Timeout:              NoTimeout,
		DirtyCheck:           true,
		ReadTracking:         true,
		ReadOnly:             false,
		ExplicitRetryAllowed: true,
		Speculative:          true,
		SpinCount:            DefaultSpinCount,
		MaxArrayLength:       DefaultMaxArrayLength,
	}
}

// Validate checks the configuration for invalid values.
func (c TxnConfig) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("invalid max retries %d: must be at least 1", c.MaxRetries)
	}
	if c.Timeout < 0 && c.Timeout != NoTimeout {
		return fmt.Errorf("invalid timeout %s: must be positive or NoTimeout", c.Timeout)
	}
	if c.SpinCount < 0 {
		return fmt.Errorf("invalid spin count %d: must not be negative", c.SpinCount)
	}
	if c.MaxArrayLength < 1 {
		return fmt.Errorf("invalid max array length %d: must be at least 1", c.MaxArrayLength)
	}
	return nil
}

// WithReadOnly returns a copy with ReadOnly set.
func (c TxnConfig) WithReadOnly(readOnly bool) TxnConfig {
	c.ReadOnly = readOnly
	return c
}

// WithMaxRetries returns a copy with MaxRetries set.
func (c TxnConfig) WithMaxRetries(maxRetries int) TxnConfig {
	c.MaxRetries = maxRetries
	return c
}

// WithTimeout returns a copy with Timeout set.
func (c TxnConfig) WithTimeout(timeout time.Duration) TxnConfig {
	c.Timeout = timeout
	return c
}

// WithDirtyCheck returns a copy with DirtyCheck set.
func (c TxnConfig) WithDirtyCheck(dirtyCheck bool) TxnConfig {
	c.DirtyCheck = dirtyCheck
	return c
}

// WithReadTracking returns a copy with ReadTracking set.
func (c TxnConfig) WithReadTracking(readTracking bool) TxnConfig {
	c.ReadTracking = readTracking
	return c
}

// WithExplicitRetryAllowed returns a copy with ExplicitRetryAllowed set.
func (c TxnConfig) WithExplicitRetryAllowed(allowed bool) TxnConfig {
	c.ExplicitRetryAllowed = allowed
	return c
}

// WithSpeculative returns a copy with Speculative set.
func (c TxnConfig) WithSpeculative(speculative bool) TxnConfig {
	c.Speculative = speculative
	return c
}

// WithSpinCount returns a copy with SpinCount set.
func (c TxnConfig) WithSpinCount(spinCount int) TxnConfig {
	c.SpinCount = spinCount
	return c
}

// --------------------------------------------------------------------------
// STM configuration
// --------------------------------------------------------------------------

// StmConfig configures an STM instance.
type StmConfig struct {
	// ReadBiasedThreshold is the number of consecutive read commits after which an object becomes read biased (0 = never)
	ReadBiasedThreshold uint32
	// PoolCapacity is the number of idle transactions kept per variant (0 = no pooling)
	PoolCapacity int

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Txn is the default configuration of transactions created by the STM
	Txn TxnConfig
}

// DefaultStmConfig returns the default STM configuration.
func DefaultStmConfig() *StmConfig {
	return &StmConfig{
		ReadBiasedThreshold: orec.DefaultReadBiasedThreshold,
		PoolCapacity:        DefaultPoolCapacity,
		LogLevel:            "info",
		LogFormat:           "console",
		Txn:                 DefaultTxnConfig(),
	}
}

// Validate checks the configuration for invalid values.
func (c *StmConfig) Validate() error {
	if c.PoolCapacity < 0 {
		return fmt.Errorf("invalid pool capacity %d: must not be negative", c.PoolCapacity)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s. must be one of console, json", c.LogFormat)
	}
	return c.Txn.Validate()
}

// String returns a formatted string representation of the configuration
func (c *StmConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("STM")
	addField("Read Biased Threshold", strconv.FormatUint(uint64(c.ReadBiasedThreshold), 10))
	addField("Pool Capacity", strconv.Itoa(c.PoolCapacity))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	timeout := "none"
	if c.Txn.Timeout != NoTimeout {
		timeout = c.Txn.Timeout.String()
	}

	addSection("Transactions")
	addField("Max Retries", strconv.Itoa(c.Txn.MaxRetries))
	addField("Timeout", timeout)
	addField("Dirty Check", fmt.Sprintf("%t", c.Txn.DirtyCheck))
	addField("Read Tracking", fmt.Sprintf("%t", c.Txn.ReadTracking))
	addField("Read Only", fmt.Sprintf("%t", c.Txn.ReadOnly))
	addField("Explicit Retry", fmt.Sprintf("%t", c.Txn.ExplicitRetryAllowed))
	addField("Speculative", fmt.Sprintf("%t", c.Txn.Speculative))
	addField("Spin Count", strconv.Itoa(c.Txn.SpinCount))
	addField("Max Array Length", strconv.Itoa(c.Txn.MaxArrayLength))

	return sb.String()
}
