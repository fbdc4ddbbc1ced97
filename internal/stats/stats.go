package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater keeps server counters in an expvar map fed through a
// buffered channel, so the hot paths never block on metrics.
type StatsUpdater struct {
	vars    *expvar.Map
	updates chan statDelta
}

type statDelta struct {
	name  string
	delta int
}

// NewStatsUpdater creates the updater and mounts its handler on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("emotichat-stats"),
		updates: make(chan statDelta, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	json.NewEncoder(w).Encode(data)
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Incr(name string) {
	su.record(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.record(name, -1)
}

// record never blocks; a full update channel drops the delta.
func (su *StatsUpdater) record(name string, delta int) {
	select {
	case su.updates <- statDelta{name: name, delta: delta}:
	default:
	}
}

func (su *StatsUpdater) applyDeltas() {
	for d := range su.updates {
		v := su.vars.Get(d.name)
		if v == nil {
			// tolerate a counter that was never registered
			i := new(expvar.Int)
			su.vars.Set(d.name, i)
			v = i
		}

		v.(*expvar.Int).Add(int64(d.delta))
	}
}

func (su *StatsUpdater) Run() {
	go su.applyDeltas()
}

func (su *StatsUpdater) Stop() {
	close(su.updates)
}
