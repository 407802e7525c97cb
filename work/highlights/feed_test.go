package highlights

import (
	"testing"
	"time"
)

const sampleDump = `
🏟️ Match: Arsenal Vs Chelsea
🆔 Match ID: 2632484
🕒 Start: 2026-08-27 18:30
📍 Tournament: Premier League
📺 Channels: Sky Sports Main Event, ESPN
🖼️ Home Logo: https://img.example.com/arsenal.png
🖼️ Away Logo: https://img.example.com/chelsea.png
⚽ Score: 2 | 1

🏟️ Match: Guinea-Bissau Vs Djibouti
🕒 Start: 2026-08-27 15:00
📍 Tournament: World Cup Qualifiers
📺 Channels: beIN Sports 1
`

func TestParseMatches(t *testing.T) {
	matches := parseMatches(sampleDump)
	if len(matches) != 2 {
		t.Fatalf("parsed %d matches, want 2", len(matches))
	}

	first := matches[0]
	if first.home != "Arsenal" || first.away != "Chelsea" {
		t.Errorf("teams = %q vs %q", first.home, first.away)
	}
	if first.matchID == nil || *first.matchID != 2632484 {
		t.Errorf("matchID = %v, want 2632484", first.matchID)
	}
	if first.date != "2026-08-27" || first.t != "18:30" {
		t.Errorf("start = %q %q", first.date, first.t)
	}
	if first.tournament != "Premier League" {
		t.Errorf("tournament = %q", first.tournament)
	}
	if len(first.channels) != 2 || first.channels[0] != "Sky Sports Main Event" {
		t.Errorf("channels = %v", first.channels)
	}
	if first.homeLogo != "https://img.example.com/arsenal.png" {
		t.Errorf("home logo = %q", first.homeLogo)
	}
	if first.score != "2|1" {
		t.Errorf("score = %q, want 2|1", first.score)
	}

	second := matches[1]
	if second.matchID != nil {
		t.Errorf("matchID = %v, want nil when the dump omits it", second.matchID)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Guinea-Bissau Vs Djibouti", "guineabissauvsdjibouti"},
		{"Beşiktaş", "besiktas"},
		{"Sky Sports 1", "skysports1"},
		{"  FC  Köln ", "fckoln"},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripTrailingDigits(t *testing.T) {
	if got := StripTrailingDigits("teamavsteamb2"); got != "teamavsteamb" {
		t.Errorf("got %q", got)
	}
	if got := StripTrailingDigits("skysports1extra"); got != "skysports1extra" {
		t.Errorf("got %q, digits in the middle must survive", got)
	}
}

func TestParseStreamList(t *testing.T) {
	text := `
name: Arsenal Vs Chelsea
url: https://cdn.example.com/a.m3u8 https://cdn.example.com/b.m3u8
name: Lone Entry
url: nothing useful here
url: https://cdn.example.com/c.m3u8
`
	buckets := ParseStreamList(text)
	if got := buckets["Arsenal Vs Chelsea"]; len(got) != 2 {
		t.Errorf("first bucket = %v, want 2 urls", got)
	}
	if got := buckets["Lone Entry"]; len(got) != 1 || got[0] != "https://cdn.example.com/c.m3u8" {
		t.Errorf("second bucket = %v", got)
	}
}

func TestSimilarityRatio(t *testing.T) {
	if got := similarityRatio("espn", "espn"); got != 100 {
		t.Errorf("identical strings ratio = %v, want 100", got)
	}
	if got := similarityRatio("sky sports main event", "sky sports main even"); got <= 85 {
		t.Errorf("near-identical ratio = %v, want > 85", got)
	}
	if got := similarityRatio("espn", "bein sports"); got > 50 {
		t.Errorf("unrelated ratio = %v, want low", got)
	}
}

func TestAttachStreamsExactAndFuzzy(t *testing.T) {
	matches := []rawMatch{{
		home: "A", away: "B",
		channels: []string{"ESPN", "Sky Sports Main Evnt", "Nowhere TV"},
	}}
	channelMap := map[string]string{
		"espn":                  "https://cdn.example.com/espn.m3u8",
		"sky sports main event": "https://cdn.example.com/sky.m3u8",
	}

	attachStreams(matches, channelMap)

	streams := matches[0].streams
	if len(streams) != 2 {
		t.Fatalf("attached %d streams, want 2: %v", len(streams), streams)
	}
	if streams[0].Name != "ESPN" || streams[0].URL != "https://cdn.example.com/espn.m3u8" {
		t.Errorf("exact match wrong: %+v", streams[0])
	}
	if streams[1].URL != "https://cdn.example.com/sky.m3u8" {
		t.Errorf("fuzzy match wrong: %+v", streams[1])
	}
}

func TestMergePlainStreamsDedupesAndNames(t *testing.T) {
	matches := []rawMatch{{
		home: "Arsenal", away: "Chelsea",
		streams: []Stream{{Name: "ESPN", URL: "https://cdn.example.com/a.m3u8"}},
	}}
	buckets := map[string][]string{
		"arsenalvschelsea": {
			"https://cdn.example.com/a.m3u8", // already attached
			"https://cdn.example.com/x.m3u8",
			"https://cdn.example.com/y.m3u8",
		},
	}

	mergePlainStreams(matches, buckets)

	streams := matches[0].streams
	if len(streams) != 3 {
		t.Fatalf("streams = %v, want 3 (one duplicate skipped)", streams)
	}
	if streams[1].Name != "arsenalvschelsea-1" || streams[2].Name != "arsenalvschelsea-2" {
		t.Errorf("appended names = %q, %q", streams[1].Name, streams[2].Name)
	}
}

func TestBuildFeedSortsByKickoff(t *testing.T) {
	matches := []rawMatch{
		{home: "Late", away: "Game", date: "2026-08-27", t: "21:00"},
		{home: "Early", away: "Game", date: "2026-08-27", t: "12:00"},
		{home: "Tomorrow", away: "Game", date: "2026-08-28", t: "09:00"},
	}

	feed := buildFeed(matches, time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC))

	if feed.GeneratedDate != "2026-08-27" {
		t.Errorf("generatedDate = %q", feed.GeneratedDate)
	}
	var order []string
	for _, m := range feed.Matches {
		order = append(order, m.Teams.Left.Name)
	}
	want := []string{"Early", "Late", "Tomorrow"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBuildFeedShapesTeams(t *testing.T) {
	id := int64(42)
	matches := []rawMatch{{
		home: "Real Madrid", away: "FC Barcelona",
		matchID: &id, date: "2026-08-27", t: "20:00",
		homeLogo: "https://img.example.com/rm.png",
	}}

	feed := buildFeed(matches, time.Now())
	m := feed.Matches[0]
	if m.MatchID == nil || *m.MatchID != 42 {
		t.Errorf("matchId = %v", m.MatchID)
	}
	if m.Teams.Left.ID != "real_madrid" {
		t.Errorf("left id = %q", m.Teams.Left.ID)
	}
	if m.Teams.Right.ID != "fc_barcelona" {
		t.Errorf("right id = %q", m.Teams.Right.ID)
	}
	if m.Teams.Left.LogoURL != "https://img.example.com/rm.png" {
		t.Errorf("left logo = %q", m.Teams.Left.LogoURL)
	}
	if m.Streams == nil {
		t.Error("streams must marshal as [], not null")
	}
}
