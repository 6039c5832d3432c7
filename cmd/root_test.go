package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/config"
)

type fakeApp struct {
	runs      []catalog.RefreshRun
	err       error
	closed    bool
	refreshed []string
}

func (f *fakeApp) Run(context.Context) error   { return nil }
func (f *fakeApp) Close(context.Context) error { f.closed = true; return nil }
func (f *fakeApp) Logger() *zap.Logger         { return zap.NewNop() }

func (f *fakeApp) Refresh(_ context.Context, lang string, mode catalog.RefreshMode) ([]catalog.RefreshRun, error) {
	f.refreshed = append(f.refreshed, lang+"/"+string(mode))
	return f.runs, f.err
}

func (f *fakeApp) Stream(_ context.Context, id, _ string) (catalog.StreamDescriptor, bool) {
	if id != "tt1187043" {
		return catalog.StreamDescriptor{}, false
	}
	return catalog.StreamDescriptor{Name: "EinthusanTV", Title: "3 Idiots (2009)", URL: "https://cdn.example/a.mp4"}, true
}

func (f *fakeApp) Meta(context.Context, string, string) (catalog.MetaRecord, bool) {
	return catalog.MetaRecord{}, false
}

func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, *config.Config) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRefreshCommandPrintsRuns(t *testing.T) {
	fake := &fakeApp{runs: []catalog.RefreshRun{{
		Language: "hindi", Mode: catalog.RefreshFull, Status: catalog.RunSuccess, Records: 40, NewRecords: 3,
	}}}
	withFakeApp(t, fake)

	out, err := execute(t, "refresh", "--lang", "Hindi")
	require.NoError(t, err)
	require.Contains(t, out, "hindi\tfull\tsuccess\trecords=40 new=3 failed_pages=0")
	require.Equal(t, []string{"hindi/full"}, fake.refreshed)
	require.True(t, fake.closed)
}

func TestRefreshCommandPropagatesErrors(t *testing.T) {
	fake := &fakeApp{err: errors.New("sweep failed")}
	withFakeApp(t, fake)

	_, err := execute(t, "refresh", "--mode", "incremental")
	require.ErrorContains(t, err, "sweep failed")
	require.Equal(t, []string{"/incremental"}, fake.refreshed)
}

func TestRefreshCommandRejectsUnknownMode(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "refresh", "--mode", "weekly")
	require.ErrorContains(t, err, "unknown mode")
}

func TestLookupCommandPrintsJSON(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	out, err := execute(t, "lookup", "tt1187043", "--lang", "hindi")
	require.NoError(t, err)
	require.Contains(t, out, `"url": "https://cdn.example/a.mp4"`)
	require.Contains(t, out, `"meta": null`)
}

func TestVersionSkipsAppBuild(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, *config.Config) (App, error) {
		t.Fatal("version must not build the app")
		return nil, nil
	}
	t.Cleanup(func() { newApp = prev })

	out, err := execute(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "EinthusanTV "))
}
