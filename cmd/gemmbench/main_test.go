package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/gemmbench/fixtures"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"gemmbench"}, args...))
	return out.String(), err
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemmbench.yaml")

	out, err := runCLI(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, data)

	_, err = runCLI(t, "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = runCLI(t, "init", "--force", path)
	assert.NoError(t, err)
}

func TestRun_HostDriver(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "run.json")
	arrowPath := filepath.Join(dir, "run.arrow")
	promPath := filepath.Join(dir, "run.prom")

	out, err := runCLI(t,
		"--driver", "host", "--verbosity", "error",
		"run",
		"--shape", "32x32x32", "--shape", "64x16x8",
		"--precision", "f32",
		"--warmup", "1", "--iterations", "2",
		"--banner=false",
		"--json", jsonPath, "--arrow", arrowPath, "--metrics-textfile", promPath,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Driver:  host")
	assert.Contains(t, out, "2 shapes, 2 succeeded, 0 failed")
	assert.Contains(t, out, "64x16x8")

	for _, path := range []string{jsonPath, arrowPath, promPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `gemmbench_shape_tops{dtype="f32",k="8",m="64",n="16"}`)
}

func TestRun_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemmbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  verbosity: error
runtime:
  driver: host
  hostMemoryBytes: 65536
benchmark:
  precisions: [bf16]
  iterations: 2
sweep:
  shapes:
    - {m: 16, n: 16, k: 16}
    - {m: 1024, n: 1024, k: 1024}
`), 0o644))

	out, err := runCLI(t, "--config", path, "run", "--banner=false")
	require.NoError(t, err, "per-shape failures do not fail the run")
	assert.Contains(t, out, "2 shapes, 1 succeeded, 1 failed")
	assert.Contains(t, out, "OutOfDeviceMemory")
}

func TestCompare_HostDriver(t *testing.T) {
	out, err := runCLI(t, "--driver", "host", "--verbosity", "error", "compare", "--shape", "32x32x32", "--precision", "f16")
	require.NoError(t, err)
	assert.Contains(t, out, "Shape:   32x32x32 f16")
	assert.Contains(t, out, "standard")
	assert.Contains(t, out, "long-run")
}

func TestCompare_HostDriver_Kinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemmbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  verbosity: error
runtime:
  driver: host
compare:
  shape: {m: 16, n: 16, k: 16}
  precision: f16
  variants:
    - name: cold
      warmup: 0
      iterations: 2
    - name: simple-half
      kind: hgemm
    - name: tuned
      kind: solutions
`), 0o644))

	out, err := runCLI(t, "--config", path, "compare")
	require.NoError(t, err)
	assert.Contains(t, out, "simple-half")
	assert.Contains(t, out, "hgemm")
	// the host driver lists no kernel solutions
	assert.Contains(t, out, "FAILED")
}

func TestDevices(t *testing.T) {
	out, err := runCLI(t, "--driver", "host", "--verbosity", "error", "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "Driver:  host")
	assert.Contains(t, out, "Devices: 1")
}

func TestExitCode(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"gemmbench", "--driver", "host", "--verbosity", "error", "devices"}, &stdout, &stderr)
		assert.Equal(t, 0, code)
		assert.Contains(t, stdout.String(), "Devices: 1")
		assert.Empty(t, stderr.String())
	})

	t.Run("failure is printed and exits non-zero", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"gemmbench", "--driver", "opencl", "devices"}, &stdout, &stderr)
		assert.Equal(t, 1, code)
		assert.True(t, strings.HasPrefix(stderr.String(), "Error: "), stderr.String())
		assert.Contains(t, stderr.String(), "runtime.driver")
	})
}

func TestGlobalFlagErrors(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		_, err := runCLI(t, "--driver", "opencl", "devices")
		assert.ErrorContains(t, err, "runtime.driver")
	})

	t.Run("missing config", func(t *testing.T) {
		_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "devices")
		assert.Error(t, err)
	})

	t.Run("bad shape", func(t *testing.T) {
		_, err := runCLI(t, "--driver", "host", "--verbosity", "error", "run", "--shape", "8x0x8")
		assert.ErrorContains(t, err, "invalid shape")
	})
}
