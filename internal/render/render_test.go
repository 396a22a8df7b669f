package render

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/murmur/internal/chat"
)

func testCatalog() Catalog {
	return Catalog{
		"kitchen":  {"kitchen1.jpg", "kitchen2.jpg", "kitchen3.jpg", "kitchen4.jpg", "kitchen5.jpg"},
		"bedroom":  {"bedroom1.jpg", "bedroom2.jpg"},
		"Exterior": {"front.jpg", "garden.jpg", "garage.jpg"},
		"floor":    {"plan.png", "kitchen1.jpg"},
	}
}

func TestParseImageDirective(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		images []string
	}{
		{
			name: "no directive",
			text: "Just text.",
			want: "Just text.",
		},
		{
			name:   "single category fills the cap",
			text:   "Here is the kitchen.\nshow_image: [kitchen]",
			want:   "Here is the kitchen.",
			images: []string{"kitchen1.jpg", "kitchen2.jpg", "kitchen3.jpg", "kitchen4.jpg", "kitchen5.jpg"},
		},
		{
			name:   "even split with backfill",
			text:   "show_image: [kitchen, bedroom]",
			images: []string{"kitchen1.jpg", "kitchen2.jpg", "kitchen3.jpg", "bedroom1.jpg", "bedroom2.jpg", "kitchen4.jpg"},
		},
		{
			name:   "remainder to earlier categories",
			text:   "show_image: [kitchen, bedroom, floor, exterior]",
			images: []string{"kitchen1.jpg", "kitchen2.jpg", "bedroom1.jpg", "bedroom2.jpg", "plan.png", "front.jpg"},
		},
		{
			name:   "case-insensitive category",
			text:   "Outside: SHOW_IMAGE: [EXTERIOR]",
			want:   "Outside:",
			images: []string{"front.jpg", "garden.jpg", "garage.jpg"},
		},
		{
			name:   "filename substring fallback",
			text:   "show_image: [garden]",
			images: []string{"garden.jpg"},
		},
		{
			name:   "global de-duplication",
			text:   "show_image: [floor, kitchen]",
			images: []string{"plan.png", "kitchen1.jpg", "kitchen2.jpg", "kitchen3.jpg", "kitchen4.jpg", "kitchen5.jpg"},
		},
		{
			name: "unknown names resolve to nothing",
			text: "show_image: [attic] ok",
			want: "ok",
		},
		{
			name:   "quoted names and repeats",
			text:   `show_image: ["bedroom", 'bedroom']`,
			images: []string{"bedroom1.jpg", "bedroom2.jpg"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseImageDirective(tt.text, testCatalog())
			if d.Text != tt.want {
				t.Errorf("Text = %q, want %q", d.Text, tt.want)
			}
			if !reflect.DeepEqual(d.Images, tt.images) {
				t.Errorf("Images = %v, want %v", d.Images, tt.images)
			}
		})
	}
}

func TestResolve_CapsAtSix(t *testing.T) {
	cat := Catalog{}
	var names []string
	for _, c := range "abcdefgh" {
		k := string(c)
		cat[k] = []string{k + "1", k + "2"}
		names = append(names, k)
	}
	got := cat.Resolve(names)
	want := []string{"a1", "b1", "c1", "d1", "e1", "f1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"kitchen/b.jpg", "kitchen/a.jpg", "bath/x.png"} {
		p := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	os.Mkdir(filepath.Join(dir, "empty"), 0o755)
	os.WriteFile(filepath.Join(dir, "loose.jpg"), []byte("img"), 0o644)

	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	want := Catalog{"kitchen": {"a.jpg", "b.jpg"}, "bath": {"x.png"}}
	if !reflect.DeepEqual(cat, want) {
		t.Errorf("catalog = %v, want %v", cat, want)
	}

	if _, err := LoadCatalog(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestGroupByDate_MixedTimestamps(t *testing.T) {
	jst := time.FixedZone("JST", 9*3600)
	msgs := []chat.Message{
		{ID: "1", Timestamp: chat.Persisted("2025-03-01 23:50:00")},
		// 2025-03-01 15:00 UTC is 2025-03-02 00:00 in JST.
		{ID: "2", Timestamp: chat.Live(time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC))},
		{ID: "3", Timestamp: chat.Persisted("2025-03-02T08:00:00")},
		{ID: "4", Timestamp: chat.Persisted("2025-03-01 09:00:00")},
	}
	groups := GroupByDate(msgs, jst)
	var got []string
	for _, g := range groups {
		ids := make([]string, 0, len(g.Messages))
		for _, m := range g.Messages {
			ids = append(ids, m.ID)
		}
		got = append(got, g.Date+":"+strings.Join(ids, ","))
	}
	want := []string{"2025-03-01:1", "2025-03-02:2,3", "2025-03-01:4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}
}

func TestDateLabel(t *testing.T) {
	now := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	tests := map[string]string{
		"2025-03-02": "Today",
		"2025-03-01": "Yesterday",
		"2025-02-14": "2025-02-14",
		"":           "Unknown date",
	}
	for in, want := range tests {
		if got := DateLabel(in, now); got != want {
			t.Errorf("DateLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTheme_Timeline(t *testing.T) {
	th := NewTheme()
	now := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	c := &chat.Chat{Messages: []chat.Message{
		{ID: "1", Role: chat.RoleUser, Content: "Show me the kitchen", Timestamp: chat.Persisted("2025-03-01 09:00:00")},
		{ID: "2", Role: chat.RoleAgent, Content: "Sure.\nshow_image: [kitchen]", Timestamp: chat.Live(now)},
		{ID: "3", Role: chat.RoleUser, Kind: chat.KindPDF, FileName: "lease.pdf", Timestamp: chat.Live(now)},
	}}
	out := th.Timeline(c, Catalog{"kitchen": {"k1.jpg"}}, time.UTC, now, 80)

	for _, want := range []string{"Yesterday", "Today", "Show me the kitchen", "Sure.", "k1.jpg", "lease.pdf", "09:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "show_image") {
		t.Errorf("directive not stripped:\n%s", out)
	}

	if out := th.Timeline(nil, nil, time.UTC, now, 80); !strings.Contains(out, "No chat selected") {
		t.Errorf("nil chat = %q", out)
	}
}

func TestTheme_UserDirectiveKeptVerbatim(t *testing.T) {
	out := NewTheme().Message(chat.Message{Role: chat.RoleUser, Content: "show_image: [kitchen]"}, testCatalog(), time.UTC, 0)
	if !strings.Contains(out, "show_image: [kitchen]") {
		t.Errorf("user text altered: %q", out)
	}
}

func TestTheme_ChatList(t *testing.T) {
	th := NewTheme()
	out := th.ChatList([]chat.Chat{{ID: "a", Title: "Rent", Preview: "How much"}, {ID: "b", Title: "Parking"}}, "b")
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[0], "1. Rent") || !strings.Contains(lines[0], "How much") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "▸") || !strings.Contains(lines[1], "2. Parking") {
		t.Errorf("active line = %q", lines[1])
	}
	if out := th.ChatList(nil, ""); !strings.Contains(out, "No chats") {
		t.Errorf("empty = %q", out)
	}
}
