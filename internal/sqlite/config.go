package sqlite

import (
	"strings"
	"time"
)

type Config struct {
	file     string
	durable  bool
	workers  int
	batches  int
	cooldown time.Duration
}

type ConfigFunc = func(c *Config)

// File sets the path of the database file. The special name ":memory:" selects a private
// in-memory database.
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

// Durable makes every commit wait for the data to reach the disk. Ignored for in-memory
// databases.
func (c *Config) Durable(durable bool) {
	c.durable = durable
}

// Workers sets the number of connections to a file database.
func (c *Config) Workers(workers int) {
	if workers < 1 {
		panic("workers can't be < 1")
	}
	c.workers = workers
}

// Batches sets the maximum number of batches returned by a single [Storage.Lease].
func (c *Config) Batches(batches int) {
	if batches < 1 {
		panic("batches can't be < 1")
	}
	c.batches = batches
}

// Cooldown sets how long a released batch can't be claimed.
func (c *Config) Cooldown(cooldown time.Duration) {
	if cooldown < 0 {
		panic("cooldown can't be < 0")
	}
	c.cooldown = cooldown
}
