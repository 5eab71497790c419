package layout_test

import (
	"path/filepath"
	"testing"

	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/stretchr/testify/assert"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		key  layout.Key
		want string
	}{
		{"plain", "https://example.com/games", layout.Key{Match: 7, Round: 3}, "https://example.com/games/7/3_0_mjai.json"},
		{"trailing slash", "https://example.com/games/", layout.Key{Match: 1, Round: 12}, "https://example.com/games/1/12_0_mjai.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, layout.URL(tt.base, tt.key))
		})
	}
}

func TestTasks(t *testing.T) {
	tasks := layout.Tasks("http://h", "/data", 4, 2, 4)

	assert.Len(t, tasks, 3)
	assert.Equal(t, layout.Key{Match: 4, Round: 2}, tasks[0].Key)
	assert.Equal(t, filepath.Join("/data", "4", "2_0_mjai.json"), tasks[0].Destination)
	assert.Equal(t, filepath.Join("/data", "4", "2_0_mjai.json.gz"), tasks[0].Artifact())
	assert.Equal(t, "http://h/4/4_0_mjai.json", tasks[2].URL)

	assert.Empty(t, layout.Tasks("http://h", "/data", 4, 5, 4))
}

func TestParseRound(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		want   int
		wantOK bool
	}{
		{"compressed", "12_0_mjai.json.gz", 12, true},
		{"raw log left by a crash", "3_0_mjai.json", 0, false},
		{"other suffix", "3_1_mjai.json", 0, false},
		{"non numeric", "x_0_mjai.json.gz", 0, false},
		{"unrelated", "notes.txt", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := layout.ParseRound(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRound_RequiresKnownExtension(t *testing.T) {
	_, ok := layout.ParseRound("3_0_mjai.json.part")
	assert.False(t, ok)
}
