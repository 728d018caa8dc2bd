package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyFlagOverrides(t *testing.T) {
	cfg := &Config{
		HTTPAddr: "8080",
		Backend:  "s3",
		Bucket:   "leases",
	}

	httpAddr = "9090"
	backend = "badger"
	bucket = "other-leases"
	defer func() {
		httpAddr = ""
		backend = ""
		bucket = ""
	}()

	cfg.applyFlagOverrides()

	assert.Equal(t, "9090", cfg.HTTPAddr)
	assert.Equal(t, "badger", cfg.Backend)
	assert.Equal(t, "other-leases", cfg.Bucket)
}

func TestApplyFlagOverrides_KeepsConfigWhenUnset(t *testing.T) {
	cfg := &Config{
		HTTPAddr: "8080",
		Backend:  "s3",
		Bucket:   "leases",
	}

	cfg.applyFlagOverrides()

	assert.Equal(t, "8080", cfg.HTTPAddr)
	assert.Equal(t, "s3", cfg.Backend)
	assert.Equal(t, "leases", cfg.Bucket)
}
