package highlights

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/regexp"
)

// The match feed is a plain-text dump where every field rides on an
// emoji-prefixed line. A new "Match:" line opens the next record.
var (
	matchRegex      = regexp.MustCompile(`🏟️ Match:\s*(?P<home>.+?)\s*Vs\s*(?P<away>.+?)\s*$`)
	matchIDRegex    = regexp.MustCompile(`🆔 Match ID:\s*(?P<id>\d+)`)
	startRegex      = regexp.MustCompile(`🕒 Start:\s*(?P<date>\d{4}-\d{2}-\d{2})\s+(?P<time>\d{2}:\d{2})`)
	tournamentRegex = regexp.MustCompile(`📍 Tournament:\s*(?P<t>.+?)\s*$`)
	channelsRegex   = regexp.MustCompile(`📺 Channels:\s*(?P<c>.+?)\s*$`)
	homeLogoRegex   = regexp.MustCompile(`🖼️ Home Logo:\s*(?P<url>\S+)`)
	awayLogoRegex   = regexp.MustCompile(`🖼️ Away Logo:\s*(?P<url>\S+)`)
	scoreRegex      = regexp.MustCompile(`⚽ Score:\s*(?P<s>\d+\s*\|\s*\d+)`)

	streamURLRegex     = regexp.MustCompile(`https://\S+\.m3u8`)
	nonAlphanumRegex   = regexp.MustCompile(`[^a-z0-9]`)
	trailingDigitRegex = regexp.MustCompile(`\d+$`)
)

// Team is one side of a match.
type Team struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl"`
}

// Stream is one playable source attached to a match.
type Stream struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Teams pairs the two sides of a match.
type Teams struct {
	Left  Team `json:"left"`
	Right Team `json:"right"`
}

// Match is one fixture in the output feed. MatchID is the numeric id from
// the source dump and stays null when the dump omits it.
type Match struct {
	MatchID    *int64 `json:"matchId"`
	StartDate  string `json:"startDate"`
	StartTime  string `json:"startTime"`
	Teams      Teams  `json:"teams"`
	Tournament string `json:"tournament"`
	// Venue is always empty in the source dump but stays in the document
	// shape consumers expect.
	Venue   string   `json:"venue"`
	Score   string   `json:"score,omitempty"`
	Streams []Stream `json:"streams"`
}

// Feed is the full highlights document.
type Feed struct {
	GeneratedDate string  `json:"generatedDate"`
	Matches       []Match `json:"matches"`
}

// rawMatch holds one record mid-parse, before stream attachment.
type rawMatch struct {
	home, away string
	matchID    *int64
	date, t    string
	tournament string
	channels   []string
	homeLogo   string
	awayLogo   string
	score      string
	streams    []Stream
}

// parseMatches splits the text dump into match records. Lines that match no
// known pattern are skipped.
func parseMatches(text string) []rawMatch {
	var matches []rawMatch
	var cur *rawMatch

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := matchRegex.FindStringSubmatch(line); m != nil {
			if cur != nil {
				matches = append(matches, *cur)
			}
			cur = &rawMatch{home: m[1], away: m[2]}
			continue
		}
		if cur == nil {
			continue
		}

		if m := matchIDRegex.FindStringSubmatch(line); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				cur.matchID = &id
			}
			continue
		}
		if m := startRegex.FindStringSubmatch(line); m != nil {
			cur.date, cur.t = m[1], m[2]
			continue
		}
		if m := tournamentRegex.FindStringSubmatch(line); m != nil {
			cur.tournament = m[1]
			continue
		}
		if m := channelsRegex.FindStringSubmatch(line); m != nil {
			for _, c := range strings.Split(m[1], ",") {
				if c = strings.TrimSpace(c); c != "" {
					cur.channels = append(cur.channels, c)
				}
			}
			continue
		}
		if m := homeLogoRegex.FindStringSubmatch(line); m != nil {
			cur.homeLogo = m[1]
			continue
		}
		if m := awayLogoRegex.FindStringSubmatch(line); m != nil {
			cur.awayLogo = m[1]
			continue
		}
		if m := scoreRegex.FindStringSubmatch(line); m != nil {
			cur.score = strings.ReplaceAll(m[1], " ", "")
			continue
		}
	}
	if cur != nil {
		matches = append(matches, *cur)
	}

	return matches
}

// NormalizeKey collapses a display name into a matching key:
// "Guinea-Bissau Vs Djibouti" becomes "guineabissauvsdjibouti". Common
// Turkish letters fold to their ASCII neighbors before stripping.
func NormalizeKey(name string) string {
	folded := strings.NewReplacer(
		"ğ", "g", "ı", "i", "ş", "s", "ç", "c", "ö", "o", "ü", "u",
	).Replace(strings.ToLower(name))
	return nonAlphanumRegex.ReplaceAllString(folded, "")
}

// StripTrailingDigits removes a numeric suffix, so "teamavsteamb2" and
// "teamavsteamb" bucket together.
func StripTrailingDigits(key string) string {
	return trailingDigitRegex.ReplaceAllString(key, "")
}

// ParseStreamList parses the plain stream list into name buckets. The
// format alternates "name:" and "url:" lines; a url line may carry several
// links and belongs to the most recent name.
func ParseStreamList(text string) map[string][]string {
	buckets := make(map[string][]string)
	currentKey := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "name:"):
			currentKey = strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		case strings.HasPrefix(line, "url:") && currentKey != "":
			for _, u := range streamURLRegex.FindAllString(line, -1) {
				buckets[currentKey] = append(buckets[currentKey], u)
			}
		}
	}
	return buckets
}

// similarityRatio is the normalized indel similarity of two strings on a
// 0..100 scale, 100 meaning equal.
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(total-indelDistance(a, b)) / float64(total)
}

// indelDistance is the edit distance with insertions and deletions only
// (substitution counts as both).
func indelDistance(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				del := prev[j] + 1
				ins := curr[j-1] + 1
				if del < ins {
					curr[j] = del
				} else {
					curr[j] = ins
				}
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// attachStreams resolves each match's channel names against the channel map
// (lowercased name to URL). Exact lookups win; otherwise the closest map
// entry with similarity above 85 is used.
func attachStreams(matches []rawMatch, channelMap map[string]string) {
	for i := range matches {
		m := &matches[i]
		for _, ch := range m.channels {
			chLow := strings.ToLower(ch)
			url := channelMap[chLow]
			if url == "" {
				url = fuzzyLookup(channelMap, chLow)
			}
			if url != "" {
				m.streams = append(m.streams, Stream{Name: ch, URL: url})
			}
		}
	}
}

func fuzzyLookup(channelMap map[string]string, name string) string {
	bestScore := 85.0
	bestURL := ""
	for candidate, url := range channelMap {
		if score := similarityRatio(name, candidate); score > bestScore {
			bestScore = score
			bestURL = url
		}
	}
	return bestURL
}

// mergePlainStreams appends bucketed plain links to each match, keyed by the
// normalized "home Vs away" name with any trailing digits stripped.
// Duplicate URLs are skipped; appended streams are named "key-1", "key-2"
// and so on.
func mergePlainStreams(matches []rawMatch, buckets map[string][]string) {
	for i := range matches {
		m := &matches[i]
		key := StripTrailingDigits(NormalizeKey(m.home + " Vs " + m.away))
		urls := buckets[key]
		if len(urls) == 0 {
			continue
		}

		existing := make(map[string]bool, len(m.streams))
		for _, s := range m.streams {
			existing[s.URL] = true
		}

		idx := 0
		for _, u := range urls {
			if existing[u] {
				continue
			}
			idx++
			m.streams = append(m.streams, Stream{
				Name: key + "-" + strconv.Itoa(idx),
				URL:  u,
			})
			existing[u] = true
		}
	}
}

// buildFeed assembles the output document, sorted by kickoff.
func buildFeed(matches []rawMatch, now time.Time) Feed {
	out := Feed{
		GeneratedDate: now.Format("2006-01-02"),
		Matches:       make([]Match, 0, len(matches)),
	}

	for _, m := range matches {
		var match Match
		match.MatchID = m.matchID
		match.StartDate = m.date
		match.StartTime = m.t
		match.Teams.Left = Team{
			ID:      teamID(m.home),
			Name:    m.home,
			LogoURL: m.homeLogo,
		}
		match.Teams.Right = Team{
			ID:      teamID(m.away),
			Name:    m.away,
			LogoURL: m.awayLogo,
		}
		match.Tournament = m.tournament
		match.Score = m.score
		match.Streams = m.streams
		if match.Streams == nil {
			match.Streams = []Stream{}
		}
		out.Matches = append(out.Matches, match)
	}

	sort.SliceStable(out.Matches, func(i, j int) bool {
		a, b := out.Matches[i], out.Matches[j]
		if a.StartDate != b.StartDate {
			return a.StartDate < b.StartDate
		}
		return a.StartTime < b.StartTime
	})

	return out
}

func teamID(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}
