package codeforces

import (
	"strconv"
	"time"
)

// User is the subset of user.info the glaze prompt uses.
type User struct {
	Handle        string    `json:"handle"`
	Rating        int       `json:"rating"`
	MaxRating     int       `json:"maxRating"`
	Rank          string    `json:"rank"`
	MaxRank       string    `json:"maxRank"`
	Contribution  int       `json:"contribution"`
	FriendOfCount int       `json:"friendOfCount"`
	RegisteredAt  time.Time `json:"registrationTime"`
}

type Problem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Key identifies a problem across submissions.
func (p Problem) Key() string {
	if p.ContestID == 0 {
		return p.Name
	}
	return strconv.Itoa(p.ContestID) + p.Index
}

type Submission struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Verdict   string    `json:"verdict"`
	Language  string    `json:"programmingLanguage"`
	Problem   Problem   `json:"problem"`
}

// Accepted reports whether the submission passed all tests.
func (s Submission) Accepted() bool {
	return s.Verdict == "OK"
}
