package imagecache

import (
	"testing"

	"github.com/hivegrid/hivegrid/utils"
)

// Two images sharing a 100 MiB base layer: the shared bytes are counted
// once and the report shows the saving.
func TestDeduplicationReport(t *testing.T) {
	c := NewCache(0, 0)
	base := LayerSpec{Digest: "sha256:base", CID: "cid-base", Size: 100 * MiB}

	utils.AssertNil(t, c.CacheImage("sha256:img1", "repo/one", []LayerSpec{
		base,
		{Digest: "sha256:app1", CID: "cid-app1", Size: 20 * MiB},
	}))
	utils.AssertNil(t, c.CacheImage("sha256:img2", "repo/two", []LayerSpec{
		base,
		{Digest: "sha256:app2", CID: "cid-app2", Size: 30 * MiB},
	}))

	report := c.AnalyzeDeduplication()
	utils.AssertEquals(t, int64(250*MiB), report.TotalLayerBytes)
	utils.AssertEquals(t, int64(150*MiB), report.UniqueLayerBytes)
	utils.AssertEquals(t, int64(100*MiB), report.SavedBytes)
	utils.AssertEquals(t, 1, len(report.SharedLayers))
	utils.AssertEquals(t, "sha256:base", report.SharedLayers[0].Digest)
	utils.AssertEquals(t, 2, report.SharedLayers[0].SharedByImages)
	utils.AssertEquals(t, 1.0-150.0/250.0, report.DeduplicationRatio)
}

func TestDeduplicationReportWithoutSharing(t *testing.T) {
	c := NewCache(0, 0)
	utils.AssertNil(t, c.CacheImage("sha256:img1", "repo/one", []LayerSpec{
		{Digest: "sha256:l1", CID: "cid-1", Size: 10 * MiB},
	}))

	report := c.AnalyzeDeduplication()
	utils.AssertEquals(t, int64(0), report.SavedBytes)
	utils.AssertEquals(t, 0.0, report.DeduplicationRatio)
	utils.AssertEquals(t, 0, len(report.SharedLayers))
}

func TestDeduplicationReportEmptyCache(t *testing.T) {
	c := NewCache(0, 0)
	report := c.AnalyzeDeduplication()
	utils.AssertEquals(t, int64(0), report.TotalLayerBytes)
	utils.AssertEquals(t, 0.0, report.DeduplicationRatio)
}
