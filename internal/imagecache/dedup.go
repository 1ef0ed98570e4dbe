package imagecache

import "sort"

// SharedLayer reports a layer referenced by more than one cached image.
type SharedLayer struct {
	Digest         string `json:"digest"`
	Size           int64  `json:"size"`
	SharedByImages int    `json:"sharedByImages"`
}

// DedupReport quantifies the storage saved by content addressing.
type DedupReport struct {
	TotalLayerBytes    int64         `json:"totalLayerBytes"`
	UniqueLayerBytes   int64         `json:"uniqueLayerBytes"`
	SavedBytes         int64         `json:"savedBytes"`
	DeduplicationRatio float64       `json:"deduplicationRatio"`
	SharedLayers       []SharedLayer `json:"sharedLayers"`
}

// AnalyzeDeduplication scans all cached images and tallies how many
// reference each layer digest. TotalLayerBytes sums layer sizes once per
// image reference; UniqueLayerBytes sums each distinct digest once.
// Diagnostic only, not used in the hot placement path.
func (c *Cache) AnalyzeDeduplication() DedupReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	refCounts := make(map[string]int)
	for _, img := range c.images {
		for _, ld := range img.Layers {
			refCounts[ld]++
		}
	}

	var report DedupReport
	for digest, count := range refCounts {
		l, ok := c.layers[digest]
		if !ok {
			continue
		}
		report.TotalLayerBytes += l.Size * int64(count)
		report.UniqueLayerBytes += l.Size
		if count > 1 {
			report.SharedLayers = append(report.SharedLayers, SharedLayer{
				Digest:         digest,
				Size:           l.Size,
				SharedByImages: count,
			})
		}
	}
	report.SavedBytes = report.TotalLayerBytes - report.UniqueLayerBytes
	if report.TotalLayerBytes > 0 {
		report.DeduplicationRatio = 1.0 - float64(report.UniqueLayerBytes)/float64(report.TotalLayerBytes)
	}
	sort.Slice(report.SharedLayers, func(i, j int) bool {
		return report.SharedLayers[i].Digest < report.SharedLayers[j].Digest
	})
	return report
}
