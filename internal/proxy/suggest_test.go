package proxy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		name   string
		miss   string
		labels []string
		limit  int
		want   []string
	}{
		{
			name:   "fragment inside a compound label",
			miss:   "api",
			labels: []string{"shop-api", "mail", "db"},
			want:   []string{"shop-api"},
		},
		{
			name:   "earlier fragment ranks first",
			miss:   "api",
			labels: []string{"shop-api", "api-v2"},
			want:   []string{"api-v2", "shop-api"},
		},
		{
			name:   "typo",
			miss:   "blg",
			labels: []string{"blog", "shop"},
			want:   []string{"blog"},
		},
		{
			name:   "prefix of the label",
			miss:   "meili",
			labels: []string{"meilisearch", "redis"},
			want:   []string{"meilisearch"},
		},
		{
			name:   "limit keeps the best, ties by name",
			miss:   "api",
			labels: []string{"api-3", "api-1", "api-2"},
			limit:  2,
			want:   []string{"api-1", "api-2"},
		},
		{
			name:   "nothing close",
			miss:   "zzz",
			labels: []string{"blog", "shop"},
			want:   []string{},
		},
		{
			name:   "empty miss",
			miss:   "--",
			labels: []string{"blog"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.miss, tt.labels, tt.limit)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandlerMissSuggests(t *testing.T) {
	reg := NewRegistry("test", nil, nil)
	require.NoError(t, reg.RegisterRoute(context.Background(), "blog", 4000, "", false))

	rec := serve(NewHandler(reg, nil, HandlerOptions{}), "blg.test")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "did you mean: blog.test")
}
