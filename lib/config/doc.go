// Package config holds the configuration of an STM instance and the default
// configuration of the transactions it creates.
//
// Configuration can be created in code (DefaultStmConfig) or loaded from the
// environment (Load). Load reads the optional files .env and .env.local and
// then environment variables with the prefix DSTM_, for example:
//
//	DSTM_MAX_RETRIES=100
//	DSTM_TIMEOUT=5s
//	DSTM_READ_BIASED_THRESHOLD=32
//	DSTM_LOG_LEVEL=debug
//
// Every key that is not set keeps its default value.
package config
