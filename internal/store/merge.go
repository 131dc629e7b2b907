package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/brandon/mailkan/pkg/types"
)

// MergeStats counts what a merge did with each record
type MergeStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Preserved int `json:"preserved"`
}

// Merge reconciles freshly fetched messages against the persisted ones.
//
// A fresh message whose match key belongs to an existing record updates that
// record's column, folder, UID and LastModified and keeps everything else,
// including its ID. Fresh messages without a match are inserted. Existing
// records not claimed by any fresh message are appended unchanged, so a
// folder that failed to fetch never loses its cards.
//
// Two distinct messages sharing subject, sender and timestamp cannot be told
// apart; each fresh message claims the earliest unclaimed record with its key.
func Merge(existing, fresh []types.Message, now time.Time) ([]types.Message, MergeStats) {
	byKey := make(map[string][]int, len(existing))
	for i := range existing {
		key := existing[i].MatchKey()
		byKey[key] = append(byKey[key], i)
	}

	claimed := make([]bool, len(existing))
	merged := make([]types.Message, 0, len(existing)+len(fresh))
	var stats MergeStats

	for _, f := range fresh {
		key := f.MatchKey()
		if queue := byKey[key]; len(queue) > 0 {
			idx := queue[0]
			byKey[key] = queue[1:]
			claimed[idx] = true

			rec := existing[idx]
			rec.Column = f.Column
			rec.Folder = f.Folder
			rec.UID = f.UID
			rec.LastModified = now
			merged = append(merged, rec)
			stats.Updated++
			continue
		}

		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.LastModified = now
		merged = append(merged, f)
		stats.Inserted++
	}

	for i, rec := range existing {
		if !claimed[i] {
			merged = append(merged, rec)
			stats.Preserved++
		}
	}

	return merged, stats
}
