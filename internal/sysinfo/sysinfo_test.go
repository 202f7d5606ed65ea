package sysinfo

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	info, err := Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Positive(t, info.CPUThreads)
}

func TestCollect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribe(t *testing.T) {
	full := &SystemInfo{
		OS:                   "linux",
		Arch:                 "amd64",
		Hostname:             "grader01",
		Platform:             "ubuntu",
		PlatformVersion:      "22.04",
		VirtualizationSystem: "kvm",
		CPUModel:             "Intel Xeon",
		CPUThreads:           8,
		MemoryTotal:          16 << 30,
		Load1:                0.5,
	}
	assert.Equal(t,
		"grader01 (ubuntu 22.04, linux/amd64, kvm guest, 8 x Intel Xeon, 16.0 GiB RAM, load 0.50)",
		full.Describe())

	bare := &SystemInfo{OS: "linux", Arch: "arm64"}
	assert.Equal(t, "unknown host (linux/arm64, load 0.00)", bare.Describe())
}
