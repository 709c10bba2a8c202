package config

import "testing"

func TestFromEnvironDefaults(t *testing.T) {
	for _, k := range []string{"BLOCK_SIZE", "CACHE_SIZE", "ENABLE_SHARED_MEMORY", "NUMA_ENABLED", "WORKERS_PER_PROCESS"} {
		t.Setenv(k, "")
	}
	c, err := FromEnviron()
	if err != nil {
		t.Fatal(err)
	}
	if c.BlockSize != defaultBlockSize {
		t.Errorf("BlockSize = %d, want %d", c.BlockSize, defaultBlockSize)
	}
	if c.WorkersPerProcess != defaultWorkersPerProc {
		t.Errorf("WorkersPerProcess = %d, want %d", c.WorkersPerProcess, defaultWorkersPerProc)
	}
	if got, want := c.NumBlocksInCache(), defaultCacheSize/defaultBlockSize; got != want {
		t.Errorf("NumBlocksInCache = %d, want %d", got, want)
	}
}

func TestFromEnvironRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	t.Setenv("BLOCK_SIZE", "100000")
	if _, err := FromEnviron(); err == nil {
		t.Fatal("expected error for non-power-of-two BLOCK_SIZE")
	}
}

func TestFromEnvironOverrides(t *testing.T) {
	t.Setenv("BLOCK_SIZE", "8192")
	t.Setenv("CACHE_SIZE", "1048576")
	t.Setenv("WORKERS_PER_PROCESS", "4")
	t.Setenv("ENABLE_SHARED_MEMORY", "false")
	t.Setenv("NUMA_ENABLED", "true")
	c, err := FromEnviron()
	if err != nil {
		t.Fatal(err)
	}
	if c.BlockSize != 8192 || c.CacheSize != 1048576 || c.WorkersPerProcess != 4 {
		t.Fatalf("got %+v", c)
	}
	if c.EnableSharedMemory || !c.NUMAEnabled {
		t.Fatalf("got %+v", c)
	}
}
