package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleResources reports instantaneous CPU/RAM usage, grounded on the
// teacher's system_handlers.go CPU/memory sampling for its own status page.
func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read CPU percentage")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	memUsedPercent := 0.0
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory statistics")
	} else {
		memUsedPercent = memStat.UsedPercent
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent": cpuAvg,
		"mem_percent": memUsedPercent,
	})
}
