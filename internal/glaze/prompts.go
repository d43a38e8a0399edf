package glaze

import (
	"fmt"
	"strings"

	"glaze/internal/codeforces"
	"glaze/internal/completion"
)

const profileSystemPrompt = `You are an unhinged hype-man for competitive programmers.
Given a Codeforces profile, write an over-the-top, affectionate roast-free "glaze":
lavish, specific praise that references the actual numbers. Keep it under 200 words,
no lists, no hashtags, and never invent stats that are not provided.`

const codeSystemPrompt = `You are an unhinged hype-man for programmers.
Given a piece of source code, write an over-the-top, affectionate "glaze" that praises
specific choices you can see in the code. Keep it under 200 words, no lists, and do not
rewrite or repeat the code.`

// profileSkeletonTokens covers the user message framing before any data is known.
const profileSkeletonTokens = 400

func profileMessages(u *codeforces.User, st codeforces.Stats) []completion.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Handle: %s\n", u.Handle)
	fmt.Fprintf(&b, "Rating: %d (max %d)\n", u.Rating, u.MaxRating)
	fmt.Fprintf(&b, "Rank: %s (max %s)\n", orUnrated(u.Rank), orUnrated(u.MaxRank))
	fmt.Fprintf(&b, "Contribution: %d, friend of %d users\n", u.Contribution, u.FriendOfCount)
	if !u.RegisteredAt.IsZero() {
		fmt.Fprintf(&b, "Registered: %s\n", u.RegisteredAt.Format("January 2006"))
	}
	fmt.Fprintf(&b, "Recent submissions: %d, accepted %d (%.1f%%)\n", st.TotalSubmissions, st.Accepted, st.AcceptanceRate)
	fmt.Fprintf(&b, "Unique problems solved: %d\n", st.UniqueSolved)
	if st.HardestSolvedRating > 0 {
		fmt.Fprintf(&b, "Hardest solved rating: %d, average solved rating: %d\n", st.HardestSolvedRating, st.AverageSolvedRating)
	}
	if len(st.TopLanguages) > 0 {
		fmt.Fprintf(&b, "Favourite languages: %s\n", joinCounts(st.TopLanguages))
	}
	if len(st.TopTags) > 0 {
		fmt.Fprintf(&b, "Favourite topics: %s\n", joinCounts(st.TopTags))
	}
	return []completion.Message{
		{Role: "system", Content: profileSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func codeMessages(code string) []completion.Message {
	return []completion.Message{
		{Role: "system", Content: codeSystemPrompt},
		{Role: "user", Content: "Glaze this code:\n\n" + code},
	}
}

func orUnrated(rank string) string {
	if rank == "" {
		return "unrated"
	}
	return rank
}

func joinCounts(cs []codeforces.Count) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("%s (%d)", c.Name, c.Count)
	}
	return strings.Join(parts, ", ")
}
