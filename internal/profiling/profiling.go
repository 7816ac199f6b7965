// Package profiling mounts pprof and runtime statistics on the service mux.
package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
)

// Config holds profiling configuration
type Config struct {
	Enabled      bool `yaml:"enabled"`
	BlockProfile bool `yaml:"block_profile"`
	MutexProfile bool `yaml:"mutex_profile"`
}

// Stats is the body served by /debug/stats
type Stats struct {
	Goroutines int    `json:"goroutines"`
	CPUs       int    `json:"cpus"`
	GOMAXPROCS int    `json:"gomaxprocs"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	HeapInuse  uint64 `json:"heap_inuse_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Sessions   int    `json:"sessions"`
}

// Register mounts /debug/pprof/* and /debug/stats on mux when profiling
// is enabled. sessions reports the live session count and may be nil.
func Register(mux *http.ServeMux, cfg Config, sessions func() int, logger *logging.Logger) bool {
	if !cfg.Enabled {
		return false
	}

	if cfg.BlockProfile {
		runtime.SetBlockProfileRate(1)
		logger.Info().Msg("Block profiling enabled")
	}
	if cfg.MutexProfile {
		runtime.SetMutexProfileFraction(1)
		logger.Info().Msg("Mutex profiling enabled")
	}

	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("GET /debug/stats", statsHandler(sessions))

	logger.Info().Msg("Profiling endpoints enabled under /debug")
	return true
}

// ReadStats samples runtime statistics
func ReadStats(sessions func() int) Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Stats{
		Goroutines: runtime.NumGoroutine(),
		CPUs:       runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
	if sessions != nil {
		s.Sessions = sessions()
	}
	return s
}

func statsHandler(sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ReadStats(sessions))
	}
}
