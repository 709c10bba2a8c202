// Package config parses the environment-variable configuration
// surface described in spec.md §6.2. It is deliberately small
// (os.LookupEnv plus strconv, with github.com/grailbio/base/log only
// for the startup line), matching the way the teacher parses its own
// small typed options by hand rather than through a flag or
// env-parsing library (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/grailbio/base/log"
)

const (
	osPageSize = 4096

	defaultBlockSize       = 64 * 1024
	defaultCacheSize       = 256 * 1024 * 1024
	defaultWorkersPerProc  = 1
	defaultEnableSharedMem = true
	defaultNUMAEnabled     = false
)

// Config holds the resolved runtime configuration for one process.
type Config struct {
	// BlockSize is the coherence block size in bytes. It must be a
	// power of two no smaller than the OS page size.
	BlockSize int
	// CacheSize is the size, in bytes, of the physical cache pool
	// each rank maintains for non-home blocks.
	CacheSize int
	// EnableSharedMemory is parsed from ENABLE_SHARED_MEMORY and
	// logged; no other code reads it, and there is no intra-node
	// shared-memory fast path for it to switch on.
	EnableSharedMemory bool
	// NUMAEnabled is parsed from NUMA_ENABLED and logged; no other code
	// reads it, and no allocation applies a NUMA binding.
	NUMAEnabled bool
	// WorkersPerProcess is the number of scheduler workers to start
	// in this process.
	WorkersPerProcess int
}

// FromEnviron resolves a Config from the process environment,
// applying defaults for unset variables. It returns an error if a set
// variable fails to parse or violates an invariant (e.g. BLOCK_SIZE
// not a power of two).
func FromEnviron() (Config, error) {
	c := Config{
		BlockSize:          defaultBlockSize,
		CacheSize:          defaultCacheSize,
		EnableSharedMemory: defaultEnableSharedMem,
		NUMAEnabled:        defaultNUMAEnabled,
		WorkersPerProcess:  defaultWorkersPerProc,
	}
	var err error
	if c.BlockSize, err = getIntEnv("BLOCK_SIZE", c.BlockSize); err != nil {
		return Config{}, err
	}
	if c.BlockSize < osPageSize || !isPowerOfTwo(c.BlockSize) {
		return Config{}, fatalf("BLOCK_SIZE=%d must be a power of two >= page size %d", c.BlockSize, osPageSize)
	}
	if c.CacheSize, err = getIntEnv("CACHE_SIZE", c.CacheSize); err != nil {
		return Config{}, err
	}
	if c.CacheSize < c.BlockSize {
		return Config{}, fatalf("CACHE_SIZE=%d must be at least one block (%d bytes)", c.CacheSize, c.BlockSize)
	}
	if c.EnableSharedMemory, err = getBoolEnv("ENABLE_SHARED_MEMORY", c.EnableSharedMemory); err != nil {
		return Config{}, err
	}
	if c.NUMAEnabled, err = getBoolEnv("NUMA_ENABLED", c.NUMAEnabled); err != nil {
		return Config{}, err
	}
	if c.WorkersPerProcess, err = getIntEnv("WORKERS_PER_PROCESS", c.WorkersPerProcess); err != nil {
		return Config{}, err
	}
	if c.WorkersPerProcess < 1 {
		return Config{}, fatalf("WORKERS_PER_PROCESS=%d must be >= 1", c.WorkersPerProcess)
	}
	log.Printf("pgas: config %+v", c)
	return c, nil
}

// NumBlocksInCache returns the number of blocks the physical cache
// pool can hold simultaneously.
func (c Config) NumBlocksInCache() int {
	return c.CacheSize / c.BlockSize
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

func getIntEnv(name string, def int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fatalf("%s=%q: %v", name, v, err)
	}
	return n, nil
}

func getBoolEnv(name string, def bool) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fatalf("%s=%q: %v", name, v, err)
	}
	return b, nil
}

func fatalf(format string, args ...interface{}) error {
	return &configError{msg: fmt.Sprintf(format, args...)}
}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }
