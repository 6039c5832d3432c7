package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/einthusan-addon/internal/cache"
	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

type fakeProvider struct {
	name  string
	title string
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Title(ctx context.Context, _ string) (string, error) {
	p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.title, p.err
}

type fakeLookup struct {
	candidates []Candidate
	err        error
	calls      atomic.Int32
}

func (l *fakeLookup) Search(context.Context, string) ([]Candidate, error) {
	l.calls.Add(1)
	return l.candidates, l.err
}

type fakeCatalog struct {
	mu       sync.Mutex
	recent   map[string][]catalog.MovieRecord
	results  []catalog.MovieRecord
	err      error
	searches []string
}

func (c *fakeCatalog) IndexedSiteID(_ context.Context, lang, xref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.recent[lang] {
		if rec.ID == xref && rec.SiteID != "" {
			return rec.SiteID, true
		}
	}
	return "", false
}

func (c *fakeCatalog) Search(_ context.Context, _ string, query string) ([]catalog.MovieRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, query)
	return c.results, c.err
}

func newTestResolver(t *testing.T, site Catalog, lookup Lookup, providers ...TitleProvider) *Resolver {
	t.Helper()
	c := cache.New(cache.NewMemoryStore(cache.MemoryConfig{}), cache.Identity{}, time.Hour, nil)
	r, err := New(Config{ProviderTimeout: time.Second}, providers, lookup, site, c, nil)
	require.NoError(t, err)
	return r
}

func TestSiteIDPassesThroughPrefixedIDs(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, &fakeCatalog{}, nil)
	for _, id := range []string{"site:abc1", "einthusan_id:abc1"} {
		got, ok := r.SiteID(context.Background(), id, "hindi")
		require.True(t, ok, id)
		require.Equal(t, "abc1", got)
	}
	_, ok := r.SiteID(context.Background(), "kitsu:12", "hindi")
	require.False(t, ok)
}

func TestSiteIDRecentFastPath(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{name: "p", title: "Dilwale Dulhania Le Jayenge"}
	site := &fakeCatalog{recent: map[string][]catalog.MovieRecord{
		"hindi": {{ID: "tt0112870", SiteID: "Ab12", Name: "Dilwale Dulhania Le Jayenge"}},
	}}
	r := newTestResolver(t, site, nil, provider)

	got, ok := r.SiteID(context.Background(), "tt0112870", "hindi")
	require.True(t, ok)
	require.Equal(t, "Ab12", got)
	require.Zero(t, provider.calls.Load())
	require.Empty(t, site.searches)
}

func TestSiteIDSearchPrefersExactIDThenTitle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		results []catalog.MovieRecord
		want    string
		found   bool
	}{
		{
			name: "exact id",
			results: []catalog.MovieRecord{
				{ID: "site:x1", SiteID: "x1", Name: "Sholay"},
				{ID: "tt0073707", SiteID: "x2", Name: "Sholay 3D"},
			},
			want: "x2", found: true,
		},
		{
			name: "normalized title",
			results: []catalog.MovieRecord{
				{ID: "site:x3", SiteID: "x3", Name: "Sholay Returns"},
				{ID: "site:x4", SiteID: "x4", Name: "  SHOLAY! "},
			},
			want: "x4", found: true,
		},
		{
			name:    "no match",
			results: []catalog.MovieRecord{{ID: "site:x5", SiteID: "x5", Name: "Deewaar"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			site := &fakeCatalog{results: tc.results}
			r := newTestResolver(t, site, nil, &fakeProvider{name: "p", title: "Sholay"})
			got, ok := r.SiteID(context.Background(), "tt0073707", "hindi")
			require.Equal(t, tc.found, ok)
			require.Equal(t, tc.want, got)
			require.Equal(t, []string{"Sholay"}, site.searches)
		})
	}
}

func TestSiteIDCachesHits(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{name: "p", title: "Sholay"}
	site := &fakeCatalog{results: []catalog.MovieRecord{{ID: "tt0073707", SiteID: "x2", Name: "Sholay"}}}
	r := newTestResolver(t, site, nil, provider)

	for i := 0; i < 3; i++ {
		got, ok := r.SiteID(context.Background(), "tt0073707", "hindi")
		require.True(t, ok)
		require.Equal(t, "x2", got)
	}
	require.EqualValues(t, 1, provider.calls.Load())
	require.Len(t, site.searches, 1)
}

func TestConcurrentSiteIDCallsShareOneProviderCall(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{name: "p", title: "Sholay", gate: make(chan struct{})}
	site := &fakeCatalog{results: []catalog.MovieRecord{{ID: "tt0073707", SiteID: "x2", Name: "Sholay"}}}
	r := newTestResolver(t, site, nil, provider)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.SiteID(context.Background(), "tt0073707", "hindi")
		}(i)
	}
	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	require.EqualValues(t, 1, provider.calls.Load())
	for _, got := range results {
		require.Equal(t, "x2", got)
	}
}

func TestTitleFallsThroughProviders(t *testing.T) {
	t.Parallel()
	first := &fakeProvider{name: "first", err: errors.New("boom")}
	second := &fakeProvider{name: "second"}
	third := &fakeProvider{name: "third", title: "Roja"}
	r := newTestResolver(t, &fakeCatalog{}, nil, first, second, third)

	title, ok := r.Title(context.Background(), "tt0105271")
	require.True(t, ok)
	require.Equal(t, "Roja", title)
	for _, p := range []*fakeProvider{first, second, third} {
		require.EqualValues(t, 1, p.calls.Load(), p.name)
	}

	_, ok = r.Title(context.Background(), "not-an-id")
	require.False(t, ok)
}

func TestTitleProviderTimeout(t *testing.T) {
	t.Parallel()
	slow := &fakeProvider{name: "slow", title: "never", gate: make(chan struct{})}
	fallback := &fakeProvider{name: "fallback", title: "Roja"}
	c := cache.New(cache.NewMemoryStore(cache.MemoryConfig{}), cache.Identity{}, time.Hour, nil)
	r, err := New(Config{ProviderTimeout: 20 * time.Millisecond}, []TitleProvider{slow, fallback}, nil, &fakeCatalog{}, c, nil)
	require.NoError(t, err)

	title, ok := r.Title(context.Background(), "tt0105271")
	require.True(t, ok)
	require.Equal(t, "Roja", title)
}

func TestCrossRefFiltersAndVerifies(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{
		{ID: "nm0000001", Title: "Roja"},
		{ID: "tt9999999", Title: "Roja", Year: "2020"},
		{ID: "tt0105271", Title: "Roja", Year: "1992"},
	}}
	provider := &fakeProvider{name: "p", title: "Roja"}
	r := newTestResolver(t, &fakeCatalog{}, lookup, provider)

	id, ok := r.CrossRef(context.Background(), "ROJA", "1992", "tamil")
	require.True(t, ok)
	require.Equal(t, "tt0105271", id)

	id, ok = r.CrossRef(context.Background(), "Roja", "1992", "tamil")
	require.True(t, ok)
	require.Equal(t, "tt0105271", id)
	require.EqualValues(t, 1, lookup.calls.Load())
}

func TestCrossRefRejectsUnverifiedCandidate(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{{ID: "tt0105271", Title: "Roja"}}}
	provider := &fakeProvider{name: "p", title: "Bombay"}
	r := newTestResolver(t, &fakeCatalog{}, lookup, provider)

	_, ok := r.CrossRef(context.Background(), "Roja", "", "tamil")
	require.False(t, ok)

	_, ok = r.CrossRef(context.Background(), "Roja", "", "tamil")
	require.False(t, ok)
	require.EqualValues(t, 1, lookup.calls.Load(), "misses are cached")
}

func TestCrossRefLookupErrorsAreNotCached(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{err: errors.New("unreachable")}
	r := newTestResolver(t, &fakeCatalog{}, lookup)

	for i := 0; i < 2; i++ {
		_, ok := r.CrossRef(context.Background(), "Roja", "", "tamil")
		require.False(t, ok)
	}
	require.EqualValues(t, 2, lookup.calls.Load())
}

func TestCrossRefVerifyFailuresAreNotCached(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{{ID: "tt0105271", Title: "Roja"}}}
	provider := &fakeProvider{name: "p", err: errors.New("connection refused")}
	r := newTestResolver(t, &fakeCatalog{}, lookup, provider)

	_, ok := r.CrossRef(context.Background(), "Roja", "", "tamil")
	require.False(t, ok)

	provider.err, provider.title = nil, "Roja"
	id, ok := r.CrossRef(context.Background(), "Roja", "", "tamil")
	require.True(t, ok)
	require.Equal(t, "tt0105271", id)
	require.EqualValues(t, 2, lookup.calls.Load())
	require.EqualValues(t, 2, provider.calls.Load())
}

func TestCrossRefCancelledVerifyIsNotCached(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{{ID: "tt0105271", Title: "Roja"}}}
	provider := &fakeProvider{name: "p", title: "Roja"}
	r := newTestResolver(t, &fakeCatalog{}, lookup, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.CrossRef(ctx, "Roja", "", "tamil")
	require.False(t, ok)

	id, ok := r.CrossRef(context.Background(), "Roja", "", "tamil")
	require.True(t, ok)
	require.Equal(t, "tt0105271", id)
	require.EqualValues(t, 2, lookup.calls.Load())
}

func TestCrossRefNotFoundTitleIsCachedAsMiss(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{{ID: "tt0105271", Title: "Roja"}}}
	provider := &fakeProvider{name: "p", err: catalog.ErrNotFound}
	r := newTestResolver(t, &fakeCatalog{}, lookup, provider)

	for i := 0; i < 2; i++ {
		_, ok := r.CrossRef(context.Background(), "Roja", "", "tamil")
		require.False(t, ok)
	}
	require.EqualValues(t, 1, lookup.calls.Load())
}

func TestConcurrentCrossRefCallsShareOneLookup(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{{ID: "tt0105271", Title: "Roja"}}}
	provider := &fakeProvider{name: "p", title: "Roja", gate: make(chan struct{})}
	r := newTestResolver(t, &fakeCatalog{}, lookup, provider)

	const callers = 6
	var wg sync.WaitGroup
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = r.CrossRef(context.Background(), "Roja!", "", "tamil")
		}(i)
	}
	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	require.EqualValues(t, 1, lookup.calls.Load())
	require.EqualValues(t, 1, provider.calls.Load())
	for _, id := range ids {
		require.Equal(t, "tt0105271", id)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestResolver(t, &fakeCatalog{}, nil, &fakeProvider{name: "p", title: "Baahubali: The Beginning"})
	for _, tc := range []struct {
		title string
		want  bool
	}{
		{"Baahubali", true},
		{"baahu", true},
		{"Magadheera", false},
	} {
		agree, err := r.Verify(ctx, "tt2631186", tc.title)
		require.NoError(t, err)
		require.Equal(t, tc.want, agree, tc.title)
	}

	down := newTestResolver(t, &fakeCatalog{}, nil, &fakeProvider{name: "p", err: errors.New("timeout")})
	_, err := down.Verify(ctx, "tt2631186", "Baahubali")
	require.Error(t, err)

	empty := newTestResolver(t, &fakeCatalog{}, nil, &fakeProvider{name: "p"})
	agree, err := empty.Verify(ctx, "tt2631186", "Baahubali")
	require.NoError(t, err)
	require.False(t, agree)
}

func TestUpgradeLeavesInputUntouched(t *testing.T) {
	t.Parallel()
	lookup := &fakeLookup{candidates: []Candidate{{ID: "tt0105271", Title: "Roja"}}}
	r := newTestResolver(t, &fakeCatalog{}, lookup, &fakeProvider{name: "p", title: "Roja"})

	in := []catalog.MovieRecord{
		{ID: "site:r1", SiteID: "r1", Name: "Roja"},
		{ID: "tt0000001", SiteID: "r2", Name: "Other"},
		{ID: "site:r3", SiteID: "r3", Name: "Unknown Film"},
	}
	out := r.Upgrade(context.Background(), in, "tamil")
	require.Equal(t, "tt0105271", out[0].ID)
	require.Equal(t, "tt0000001", out[1].ID)
	require.Equal(t, "site:r3", out[2].ID)
	require.Equal(t, "site:r1", in[0].ID)
}
