package buildlog

import (
	"time"

	"omniworker/internal/shared/util"
)

// Summary aggregates a list of builds of one module.
type Summary struct {
	SourcePath        string        `json:"sourcePath"`
	Builds            int           `json:"builds"`
	DistinctArtifacts int           `json:"distinctArtifacts"`
	AvgDuration       time.Duration `json:"avgDuration"`
	MaxDuration       time.Duration `json:"maxDuration"`
	AvgBytes          int           `json:"avgBytes"`
	LastBuilt         time.Time     `json:"lastBuilt"`
	// Launchers lists the distinct launchers that ran these builds.
	Launchers []string `json:"launchers"`
	// ArtifactChanges counts consecutive builds whose hash differs.
	ArtifactChanges int `json:"artifactChanges"`
}

// Summarize expects entries newest first, as returned by Recent.
func Summarize(sourcePath string, entries []Entry) Summary {
	s := Summary{SourcePath: sourcePath, Builds: len(entries)}
	if len(entries) == 0 {
		return s
	}

	hashes := make(map[string]bool)
	launchers := make(map[string]struct{})
	var (
		total time.Duration
		bytes int
	)
	for i, e := range entries {
		hashes[e.ArtifactHash] = true
		if e.Launcher != "" {
			launchers[e.Launcher] = struct{}{}
		}
		total += e.Duration
		bytes += e.ArtifactBytes
		if e.Duration > s.MaxDuration {
			s.MaxDuration = e.Duration
		}
		if e.BuiltAt.After(s.LastBuilt) {
			s.LastBuilt = e.BuiltAt
		}
		if i > 0 && entries[i-1].ArtifactHash != e.ArtifactHash {
			s.ArtifactChanges++
		}
	}
	s.DistinctArtifacts = len(hashes)
	s.Launchers = util.SortedStringKeys(launchers)
	s.AvgDuration = total / time.Duration(len(entries))
	s.AvgBytes = bytes / len(entries)
	return s
}
