package ecs

// StorageStats summarizes a world's storage. TotalEntityCount counts
// allocated rows, free rows included, and matches World.EntityCount.
type StorageStats struct {
	ArchetypeCount     int
	TotalEntityCount   int
	LiveEntityCount    int
	SingletonCount     int
	ColumnBytes        int
	ArchetypeBreakdown []ArchetypeStats
}

// ArchetypeStats describes one archetype.
type ArchetypeStats struct {
	ID          ArchetypeId
	Components  []ComponentId
	Rows        int
	EntityCount int
	FreeRows    int
	// ColumnBytes counts both buffers of every column.
	ColumnBytes int
}

// CollectStats walks every archetype in id order.
func (w *World) CollectStats() StorageStats {
	stats := StorageStats{
		ArchetypeCount:  w.ArchetypeCount(),
		LiveEntityCount: w.LiveEntityCount(),
		SingletonCount:  len(w.singletons),
	}
	for _, a := range w.Archetypes() {
		arch := ArchetypeStats{
			ID:          a.id,
			Components:  a.ComponentIds(),
			Rows:        a.rows,
			EntityCount: a.Len(),
			FreeRows:    a.FreeRows(),
		}
		for _, col := range a.columns {
			arch.ColumnBytes += len(col.buffers[0]) + len(col.buffers[1])
		}
		stats.TotalEntityCount += arch.Rows
		stats.ColumnBytes += arch.ColumnBytes
		stats.ArchetypeBreakdown = append(stats.ArchetypeBreakdown, arch)
	}
	return stats
}
