package journal

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teenjuna/flowbuf/codec"
	"github.com/teenjuna/flowbuf/retry"
)

type Config struct {
	file         string
	durable      bool
	codec        codec.Codec
	flushSize    int
	flushTimeout time.Duration
	retryPolicy  retry.Policy
	demand       int
	batches      int
	logger       *zap.Logger
}

type ConfigFunc = func(c *Config)

// File sets the path of the SQLite database. The default ":memory:" keeps batches in memory.
func (c *Config) File(file string) {
	file = strings.TrimSpace(file)
	if file == "" {
		panic("file can't be blank")
	}
	if strings.Contains(file, "?") {
		panic("file can't contain ?")
	}
	c.file = file
}

// Durable makes every stored batch wait for the data to reach the disk.
func (c *Config) Durable(durable bool) {
	c.durable = durable
}

// Codec sets the codec used to store batches. Defaults to JSON.
func (c *Config) Codec(codec codec.Codec) {
	if codec == nil {
		panic("codec can't be nil")
	}
	c.codec = codec
}

// FlushSize sets the number of recorded items that are stored together as one batch.
func (c *Config) FlushSize(size int) {
	if size < 1 {
		panic("flush size can't be < 1")
	}
	c.flushSize = size
}

// FlushTimeout sets how long recorded items may wait for the batch to fill up. Zero disables the
// timeout.
func (c *Config) FlushTimeout(timeout time.Duration) {
	if timeout < 0 {
		panic("flush timeout can't be < 0")
	}
	c.flushTimeout = timeout
}

// RetryPolicy sets the policy used to retry failed storage writes. Its cooldown delays batches
// released after a failed replay.
func (c *Config) RetryPolicy(policy retry.Policy) {
	if policy == nil {
		panic("policy can't be nil")
	}
	c.retryPolicy = policy
}

// Demand sets the maximum number of items pulled from the recorded buffer at once.
func (c *Config) Demand(demand int) {
	if demand < 1 {
		panic("demand can't be < 1")
	}
	c.demand = demand
}

// Batches sets the number of stored batches claimed at once during replay.
func (c *Config) Batches(batches int) {
	if batches < 1 {
		panic("batches can't be < 1")
	}
	c.batches = batches
}

// Logger sets the logger of the journal. By default, nothing is logged.
func (c *Config) Logger(logger *zap.Logger) {
	if logger == nil {
		panic("logger can't be nil")
	}
	c.logger = logger
}
