package sync

import (
	"testing"

	"github.com/sandwichfarm/strand/internal/config"
)

func TestNewFilterBuilderDefaults(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Sync
		page     int
		narrow   int
		wide     int
		comments int
	}{
		{
			name:     "nil config",
			cfg:      nil,
			page:     20,
			narrow:   100,
			wide:     1000,
			comments: 500,
		},
		{
			name:     "configured sizes",
			cfg:      &config.Sync{PageSize: 50, NarrowScan: 10, WideScan: 20, CommentLimit: 30},
			page:     50,
			narrow:   10,
			wide:     20,
			comments: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewFilterBuilder(tt.cfg)

			if got := fb.HydrateQuery().Limit; got != tt.page {
				t.Errorf("HydrateQuery().Limit = %d, want %d", got, tt.page)
			}
			scans := fb.RootScanQueries()
			if len(scans) != 2 || scans[0].Limit != tt.narrow || scans[1].Limit != tt.wide {
				t.Errorf("RootScanQueries() = %+v", scans)
			}
			if got := fb.CommentsQuery("root").Limit; got != tt.comments {
				t.Errorf("CommentsQuery().Limit = %d, want %d", got, tt.comments)
			}
		})
	}
}

func TestPageQuery(t *testing.T) {
	fb := NewFilterBuilder(nil)

	q := fb.PageQuery(999)
	if q.Until == nil || *q.Until != 999 {
		t.Fatalf("Expected until 999, got %v", q.Until)
	}
	if q.Since != nil {
		t.Error("Expected no since bound on a page query")
	}
	if !q.UseCache || q.Kind != KindNote {
		t.Errorf("Unexpected page query: %+v", q)
	}
}

func TestCommentsQueriesReferenceRoot(t *testing.T) {
	fb := NewFilterBuilder(nil)

	q := fb.CommentsQuery("root-id")
	filter := q.Filter()
	if got := filter.Tags["e"]; len(got) != 1 || got[0] != "root-id" {
		t.Errorf("Expected e tag filter on root, got %v", filter.Tags)
	}

	cq := fb.CachedCommentsQuery("root-id")
	if cq.TagKey != "e" || cq.TagValue != "root-id" {
		t.Errorf("Unexpected cached comments query: %+v", cq)
	}
}
