package main

import (
	"fmt"
	"io"
	"runtime"
	"text/template"
	"time"

	"github.com/plus3/latch/ecs"
)

type Report struct {
	// Configuration
	Duration time.Duration
	Entities int
	Workers  int
	CellSize int32
	Radius   float32
	Churn    int

	// Results
	TotalUpdates   int64
	TotalTime      time.Duration
	UpdateTime     Stats
	Faults         uint64
	Contacts       int64
	Overlaps       int64
	Links          int64
	Overflows      int
	Factions       []FactionCount
	Scheduler      *ecs.SchedulerStats
	Storage        ecs.StorageStats
	GCPauseMetrics bool
	MemStatsStart  runtime.MemStats
	MemStatsEnd    runtime.MemStats
}

type FactionCount struct {
	Faction uint32
	Peak    int
}

type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Samples []time.Duration
}

func (s *Stats) Finalize() {
	if len(s.Samples) == 0 {
		return
	}

	var total time.Duration
	s.Min = s.Samples[0]
	s.Max = s.Samples[0]

	for _, sample := range s.Samples {
		if sample < s.Min {
			s.Min = sample
		}
		if sample > s.Max {
			s.Max = sample
		}
		total += sample
	}
	s.Avg = total / time.Duration(len(s.Samples))
}

func (r *Report) Generate(w io.Writer) error {
	const reportTemplate = `
# ECS Stress Test Report

## Test Configuration
- **Run Duration:** {{.Duration}}
- **Initial Entities:** {{.Entities}}
- **Workers:** {{.Workers}}
- **Cell Size / Radius:** {{.CellSize}} / {{.Radius}}
- **Churn per Tick:** {{.Churn}}

## Performance Results
- **Total Updates:** {{.TotalUpdates}}
- **Faulted Ticks:** {{.Faults}}
- **Total Test Time:** {{.TotalTime}}
- **Update Time (Frame):**
  - **Avg:** {{.UpdateTime.Avg}}
  - **Min:** {{.UpdateTime.Min}}
  - **Max:** {{.UpdateTime.Max}}
{{with .Scheduler}}
## Last Tick Phases
{{range $i, $d := .LastPhase}}- {{phase $i}}: {{$d}}
{{end}}
## Systems
{{range .Systems}}- **{{.Name}}:** avg {{.AvgDuration}}, min {{.MinDuration}}, max {{.MaxDuration}} over {{.ExecutionCount}} runs
{{end}}{{end}}
## Storage
- **Archetypes:** {{.Storage.ArchetypeCount}}
- **Live Entities:** {{.Storage.LiveEntityCount}} in {{.Storage.TotalEntityCount}} rows
- **Column Bytes:** {{.Storage.ColumnBytes | mb}} MiB
{{range .Storage.ArchetypeBreakdown}}  - {{printf "%016x" .ID}} {{.Components}}: {{.EntityCount}} live, {{.FreeRows}} free rows
{{end}}
## Accelerators
- **Contacts Observed:** {{.Contacts}}
- **Box Overlaps Observed:** {{.Overlaps}}
- **Overlap Links Published:** {{.Links}}
- **Scratch Overflows:** {{.Overflows}}
{{range .Factions}}- Faction {{.Faction}} peak: {{.Peak}}
{{end}}
## Memory Usage (Raw Bytes)
- Heap Alloc:     {{.MemStatsStart.HeapAlloc}} (start) -> {{.MemStatsEnd.HeapAlloc}} (end) -> delta: {{bsub .MemStatsEnd.HeapAlloc .MemStatsStart.HeapAlloc}}
- Total Alloc:    {{.MemStatsStart.TotalAlloc}} (start) -> {{.MemStatsEnd.TotalAlloc}} (end) -> delta: {{bsub .MemStatsEnd.TotalAlloc .MemStatsStart.TotalAlloc}}
- Sys Memory:     {{.MemStatsStart.Sys}} (start) -> {{.MemStatsEnd.Sys}} (end) -> delta: {{bsub .MemStatsEnd.Sys .MemStatsStart.Sys}}
- Num GC:         {{.MemStatsStart.NumGC}} (start) -> {{.MemStatsEnd.NumGC}} (end) -> delta: {{usub .MemStatsEnd.NumGC .MemStatsStart.NumGC}}

{{if .GCPauseMetrics}}
## GC Pause Durations
- **Total GC Pause:** {{.MemStatsEnd.PauseTotalNs | ns}}
- **Num GC Cycles:** {{ usub .MemStatsEnd.NumGC .MemStatsStart.NumGC }}
{{end}}
`

	fm := template.FuncMap{
		"mb": func(v any) string {
			switch val := v.(type) {
			case int:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			case uint64:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			case int64:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			default:
				return "N/A"
			}
		},
		"bsub": func(a, b uint64) int64 {
			return int64(a) - int64(b)
		},
		"usub": func(a, b uint32) uint32 {
			return a - b
		},
		"ns": func(ns uint64) string {
			return time.Duration(ns).String()
		},
		"phase": func(i int) string {
			if ecs.Phase(i) == ecs.PhaseIdle {
				return "Idle (command flush)"
			}
			return ecs.Phase(i).String()
		},
	}

	tmpl, err := template.New("report").Funcs(fm).Parse(reportTemplate)
	if err != nil {
		return err
	}

	return tmpl.Execute(w, r)
}
