package codeforces

import (
	"math"
	"sort"
)

const topN = 5

// Count is a named tally used for top-N lists.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats are aggregates derived from a submission history.
type Stats struct {
	TotalSubmissions    int            `json:"totalSubmissions"`
	Accepted            int            `json:"acceptedSubmissions"`
	UniqueSolved        int            `json:"uniqueProblemsSolved"`
	AcceptanceRate      float64        `json:"acceptanceRate"`
	TopLanguages        []Count        `json:"topLanguages"`
	TopTags             []Count        `json:"topTags"`
	HardestSolvedRating int            `json:"hardestSolvedRating"`
	AverageSolvedRating int            `json:"averageSolvedRating"`
	Verdicts            map[string]int `json:"verdicts"`
}

// ComputeStats aggregates subs. Tags and ratings count each solved problem once.
func ComputeStats(subs []Submission) Stats {
	st := Stats{
		TotalSubmissions: len(subs),
		Verdicts:         make(map[string]int),
	}
	languages := make(map[string]int)
	tags := make(map[string]int)
	solved := make(map[string]Problem)

	for _, s := range subs {
		verdict := s.Verdict
		if verdict == "" {
			verdict = "TESTING"
		}
		st.Verdicts[verdict]++
		if s.Language != "" {
			languages[s.Language]++
		}
		if !s.Accepted() {
			continue
		}
		st.Accepted++
		if _, seen := solved[s.Problem.Key()]; seen {
			continue
		}
		solved[s.Problem.Key()] = s.Problem
	}

	var ratingSum, rated int
	for _, p := range solved {
		for _, tag := range p.Tags {
			tags[tag]++
		}
		if p.Rating > 0 {
			ratingSum += p.Rating
			rated++
			st.HardestSolvedRating = max(st.HardestSolvedRating, p.Rating)
		}
	}

	st.UniqueSolved = len(solved)
	if rated > 0 {
		st.AverageSolvedRating = int(math.Round(float64(ratingSum) / float64(rated)))
	}
	if st.TotalSubmissions > 0 {
		st.AcceptanceRate = math.Round(float64(st.Accepted)*1000/float64(st.TotalSubmissions)) / 10
	}
	st.TopLanguages = top(languages, topN)
	st.TopTags = top(tags, topN)
	return st
}

// top returns the n largest tallies, ties broken by name.
func top(m map[string]int, n int) []Count {
	out := make([]Count, 0, len(m))
	for name, c := range m {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
