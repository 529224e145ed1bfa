package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/sink/file"
)

const ejfatURI = "ejfat://token@192.168.100.10:18020/lb/36?sync=192.168.77.7:19020&data=192.168.77.100"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "e2sar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, uint16(DefaultDataID), cfg.Transport.DataID)
	assert.Equal(t, uint32(DefaultSourceID), cfg.Transport.SourceID)
	assert.Equal(t, DefaultMTU, cfg.Transport.MTU)
	assert.Equal(t, DefaultRateGbps, cfg.Transport.RateGbps)
	assert.False(t, cfg.Transport.ControlPlane)

	assert.Equal(t, DefaultBufSizeMB, cfg.Send.BufSizeMB)
	assert.Equal(t, DefaultDrainWait, cfg.Send.DrainWait)

	assert.Equal(t, DefaultRecvPort, cfg.Recv.Port)
	assert.Equal(t, DefaultRecvThreads, cfg.Recv.Threads)
	assert.Equal(t, DefaultEventTimeout, cfg.Recv.EventTimeout)
	assert.Equal(t, DefaultPollInterval, cfg.Recv.PollInterval)

	assert.Equal(t, ".", cfg.Sink.File.Directory)
	assert.Equal(t, file.DefaultPattern, cfg.Sink.File.Pattern)

	assert.Equal(t, DefaultBrokerURL, cfg.Broker.URL)
	assert.Equal(t, DefaultSubject, cfg.Broker.SubjectPrefix)
	assert.False(t, cfg.Broker.JetStream)

	assert.Equal(t, DefaultProcWorkers, cfg.Proc.Workers)
	assert.Equal(t, DefaultProcQueue, cfg.Proc.QueueDepth)
	assert.False(t, cfg.Sink.Object.Enabled())

	assert.False(t, cfg.Metrics.Enabled())
	assert.False(t, cfg.Monitor.Enabled)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
transport:
  uri: loopback:demo?capacity=8
  mtu: 9000
  rate_gbps: -1
send:
  files:
    - run_001.dat
    - run_002.dat
recv:
  event_timeout: 250ms
sink:
  object:
    bucket: RUN42
broker:
  subject_prefix: raw
  jetstream: true
  stream: EVENTS
proc:
  workers: 8
  queue_depth: 512
metrics:
  port: 9100
monitor:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "loopback:demo?capacity=8", cfg.Transport.URI)
	assert.Equal(t, 9000, cfg.Transport.MTU)
	assert.Equal(t, -1.0, cfg.Transport.RateGbps)
	assert.Equal(t, []string{"run_001.dat", "run_002.dat"}, cfg.Send.Files)
	assert.Equal(t, 250*time.Millisecond, cfg.Recv.EventTimeout)
	assert.Equal(t, "raw", cfg.Broker.SubjectPrefix)
	assert.True(t, cfg.Broker.JetStream)
	assert.Equal(t, "EVENTS", cfg.Broker.Stream)
	assert.Equal(t, "RUN42", cfg.Sink.Object.Bucket)
	assert.Equal(t, 8, cfg.Proc.Workers)
	assert.Equal(t, 512, cfg.Proc.QueueDepth)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.True(t, cfg.Metrics.Enabled())
	assert.True(t, cfg.Monitor.Enabled)

	// Keys the file does not mention keep their defaults.
	assert.Equal(t, uint16(DefaultDataID), cfg.Transport.DataID)
	assert.Equal(t, DefaultRecvPort, cfg.Recv.Port)
	assert.Equal(t, file.DefaultPattern, cfg.Sink.File.Pattern)
	assert.Equal(t, DefaultBrokerURL, cfg.Broker.URL)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"top level", "pipeline:\n  foo: 1\n"},
		{"nested", "transport:\n  jumbo: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mtu too small", func(c *Config) { c.Transport.MTU = 100 }},
		{"mtu too large", func(c *Config) { c.Transport.MTU = 65000 }},
		{"zero batch budget", func(c *Config) { c.Send.BufSizeMB = 0 }},
		{"zero event timeout", func(c *Config) { c.Recv.EventTimeout = 0 }},
		{"zero poll interval", func(c *Config) { c.Recv.PollInterval = 0 }},
		{"sink pattern without placeholder", func(c *Config) { c.Sink.File.Pattern = "event.dat" }},
		{"bad archive bucket", func(c *Config) { c.Sink.Object.Bucket = "no.dots" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidateSend(t *testing.T) {
	good := func() *Config {
		cfg := DefaultConfig()
		cfg.Transport.URI = "loopback:demo"
		cfg.Send.Files = []string{"run_001.dat"}
		return cfg
	}
	require.NoError(t, good().ValidateSend())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing uri", func(c *Config) { c.Transport.URI = "" }},
		{"unparseable uri", func(c *Config) { c.Transport.URI = "ejfat://" }},
		{"no input files", func(c *Config) { c.Send.Files = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good()
			tc.mutate(cfg)
			err := cfg.ValidateSend()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidateRecv(t *testing.T) {
	good := func() *Config {
		cfg := DefaultConfig()
		cfg.Transport.URI = ejfatURI
		cfg.Recv.ListenIP = "192.168.77.100"
		return cfg
	}
	require.NoError(t, good().ValidateRecv())

	t.Run("loopback needs no listen address", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.URI = "loopback:demo"
		require.NoError(t, cfg.ValidateRecv())
	})

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ejfat without listen address", func(c *Config) { c.Recv.ListenIP = "" }},
		{"port out of range", func(c *Config) { c.Recv.Port = 0 }},
		{"zero threads", func(c *Config) { c.Recv.Threads = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good()
			tc.mutate(cfg)
			err := cfg.ValidateRecv()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidateBroker(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateBroker())

	t.Run("missing url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Broker.URL = ""
		err := cfg.ValidateBroker()
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("missing subject prefix", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Broker.SubjectPrefix = ""
		err := cfg.ValidateBroker()
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestValidateProc(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateProc())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Proc.Workers = 0 }},
		{"negative queue depth", func(c *Config) { c.Proc.QueueDepth = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.ValidateProc()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseURI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.URI = ejfatURI

	u, err := cfg.ParseURI()
	require.NoError(t, err)
	assert.Equal(t, "ejfat", u.Scheme)
	assert.Equal(t, "36", u.LBID)
	assert.Equal(t, "192.168.77.100:19522", u.DataAddr)

	cfg.Transport.URI = ""
	_, err = cfg.ParseURI()
	require.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("E2SAR_TEST_STR", "hello")
	assert.Equal(t, "hello", Env("E2SAR_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", Env("E2SAR_TEST_UNSET", "fallback"))

	t.Setenv("E2SAR_TEST_BOOL", "true")
	assert.True(t, EnvBool("E2SAR_TEST_BOOL", false))
	t.Setenv("E2SAR_TEST_BOOL", "not-a-bool")
	assert.True(t, EnvBool("E2SAR_TEST_BOOL", true))

	t.Setenv("E2SAR_TEST_INT", "42")
	assert.Equal(t, 42, EnvInt("E2SAR_TEST_INT", 7))
	t.Setenv("E2SAR_TEST_INT", "eleven")
	assert.Equal(t, 7, EnvInt("E2SAR_TEST_INT", 7))

	t.Setenv("E2SAR_TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, EnvFloat("E2SAR_TEST_FLOAT", 1.0))
	t.Setenv("E2SAR_TEST_FLOAT", "fast")
	assert.Equal(t, 1.0, EnvFloat("E2SAR_TEST_FLOAT", 1.0))

	t.Setenv("E2SAR_TEST_DUR", "750ms")
	assert.Equal(t, 750*time.Millisecond, EnvDuration("E2SAR_TEST_DUR", time.Second))
	t.Setenv("E2SAR_TEST_DUR", "soon")
	assert.Equal(t, time.Second, EnvDuration("E2SAR_TEST_DUR", time.Second))
}
