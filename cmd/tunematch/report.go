package main

import (
	"sort"
	"time"

	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/repository"
	"github.com/timmy/tunematch/internal/service"
)

// matchReport is the JSON document written by the match command.
type matchReport struct {
	SourceID      string                `json:"source_id"`
	PlaylistID    string                `json:"playlist_id"`
	ContextHash   string                `json:"context_hash"`
	ProfileMethod domain.ProfileMethod  `json:"profile_method"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Cached        int                   `json:"cached"`
	Computed      int                   `json:"computed"`
	Results       []*domain.MatchResult `json:"results"`
	Failures      []reportFailure       `json:"failures,omitempty"`
	Missing       []string              `json:"missing_members,omitempty"`
	Suggestions   []reportSuggestion    `json:"suggestions,omitempty"`
}

type reportFailure struct {
	TrackID string `json:"track_id"`
	Error   string `json:"error"`
}

type reportSuggestion struct {
	TrackID string  `json:"track_id"`
	Score   float32 `json:"score"`
}

func buildMatchReport(sourceID string, resp *service.MatchResponse, missing []string, hits []repository.TrackHit, now time.Time) *matchReport {
	report := &matchReport{
		SourceID:    sourceID,
		ContextHash: resp.ContextHash,
		GeneratedAt: now.UTC(),
		Cached:      resp.Cached,
		Computed:    resp.Computed,
		Results:     resp.Results,
		Missing:     missing,
	}
	if report.Results == nil {
		report.Results = []*domain.MatchResult{}
	}
	if resp.Profile != nil {
		report.PlaylistID = resp.Profile.PlaylistID
		report.ProfileMethod = resp.Profile.Method
	}

	for trackID, err := range resp.Failures {
		report.Failures = append(report.Failures, reportFailure{TrackID: trackID, Error: err.Error()})
	}
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].TrackID < report.Failures[j].TrackID
	})

	for _, hit := range hits {
		report.Suggestions = append(report.Suggestions, reportSuggestion{TrackID: hit.TrackID, Score: hit.Score})
	}
	return report
}
