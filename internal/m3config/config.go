// Package m3config loads the fixed-at-init parameters an embedding host
// would otherwise hardcode, the way dh-cli's internal/config package loads
// ~/.dh/config.toml with the same library (original_source has no
// equivalent file; these knobs are scattered across state.c constants and
// checkopt parsing instead).
package m3config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// Init holds the parameters NewEngine, mp.NewShared and QueueNew need at
// construction. A zero Init is not valid on its own; call Defaults first
// or Load a TOML file and then call FillDefaults.
type Init struct {
	// BlockSize is the byte size of one working-memory block. Must be a
	// power of two and a multiple of the platform cache line size.
	BlockSize uint32 `toml:"block_size,omitempty"`

	// BlockCount is the number of blocks in the working-memory arena.
	// Must not exceed 64 (mem.FrameId's per-frame save/diff masks are
	// single uint64 bitsets).
	BlockCount uint32 `toml:"block_count,omitempty"`

	// FrameArenaSize is the byte size of each per-frame bump arena
	// (mem.Config.FrameArenaSize).
	FrameArenaSize uint32 `toml:"frame_arena_size,omitempty"`

	// HeapSize is the byte size of each process's private heap slab
	// within the shared mapping (mp.NewShared's procSize).
	HeapSize uint32 `toml:"heap_size,omitempty"`

	// QueueCapacity is the default number of slots a queue is created
	// with when a caller doesn't specify one explicitly.
	QueueCapacity uint64 `toml:"queue_capacity,omitempty"`

	// Workers is the number of worker processes (simulated as
	// goroutines) the embedding host should start. Zero means
	// runtime.NumCPU(), mirroring state.c's M3_PARALLEL_NCPU sentinel.
	Workers int `toml:"workers,omitempty"`

	// LogLevel is a logrus level name ("debug", "info", "warn", ...).
	// Empty means the package leaves logrus.StandardLogger()'s level
	// untouched.
	LogLevel string `toml:"log_level,omitempty"`
}

// Defaults returns the baseline Init a host gets when it supplies no
// config file at all.
func Defaults() Init {
	return Init{
		BlockSize:      4096,
		BlockCount:     16,
		FrameArenaSize: 1 << 20,
		HeapSize:       1 << 20,
		QueueCapacity:  256,
		Workers:        0,
		LogLevel:       "info",
	}
}

// FillDefaults replaces every zero-value field in init with the
// corresponding Defaults() field, in place. A host that loads a partial
// TOML file (say, only overriding block_count) still ends up with a
// fully populated Init.
func (init *Init) FillDefaults() {
	d := Defaults()
	if init.BlockSize == 0 {
		init.BlockSize = d.BlockSize
	}
	if init.BlockCount == 0 {
		init.BlockCount = d.BlockCount
	}
	if init.FrameArenaSize == 0 {
		init.FrameArenaSize = d.FrameArenaSize
	}
	if init.HeapSize == 0 {
		init.HeapSize = d.HeapSize
	}
	if init.QueueCapacity == 0 {
		init.QueueCapacity = d.QueueCapacity
	}
	if init.LogLevel == "" {
		init.LogLevel = d.LogLevel
	}
}

// NumWorkers resolves the M3_PARALLEL_NCPU sentinel: Workers == 0 means
// "one per logical CPU", matching state.c's sys_num_cpus fallback.
func (init Init) NumWorkers() int {
	if init.Workers > 0 {
		return init.Workers
	}
	return runtime.NumCPU()
}

// Load reads a TOML file at path and returns an Init with every
// unspecified field filled from Defaults(). A missing file is not an
// error; it returns Defaults() unchanged, mirroring dh-cli's
// config.Load treating a missing config.toml as "use the zero value".
func Load(path string) (Init, error) {
	init := Init{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Init{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &init); err != nil {
		return Init{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	init.FillDefaults()
	return init, nil
}

// Save marshals init back to a TOML file at path, creating or truncating
// it, the way config.Save writes dh-cli's ~/.dh/config.toml.
func Save(path string, init Init) error {
	data, err := toml.Marshal(init)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ConfigureLogger applies init.LogLevel to logger, defaulting to
// logrus.StandardLogger() when logger is nil. An unrecognized level name
// is returned as an error, and the logger is left at whatever level it
// already had.
func ConfigureLogger(logger *logrus.Logger, init Init) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if init.LogLevel == "" {
		return nil
	}
	level, err := logrus.ParseLevel(init.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level %q: %w", init.LogLevel, err)
	}
	logger.SetLevel(level)
	return nil
}
