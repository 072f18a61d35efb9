package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><title>Derby night</title></head><body>
<nav>Menu Home Sport</nav>
<article><h1>Derby night</h1>
<p>Sparta beat Slavia two goals to one in a tense derby at Letná on Saturday evening, with both goals scored in the second half.</p>
<p>The home side climbed to the top of the table after the win and will face Plzeň next weekend in another decisive match.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestFetchExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.UserAgent(), "trendpress")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	doc, err := New(time.Second, 0).Fetch(context.Background(), srv.URL+"/derby")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Contains(t, doc.Text, "Sparta beat Slavia")
	assert.NotContains(t, doc.Text, "\n")
}

func TestFetchShortPageHasNoDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>Too short.</p></body></html>")
	}))
	defer srv.Close()

	doc, err := New(time.Second, 0).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestGatherSkipsFailedHost(t *testing.T) {
	var hits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer good.Close()

	urls := []string{bad.URL + "/1", bad.URL + "/2", good.URL + "/a", good.URL + "/b", good.URL + "/c"}
	docs, res := New(time.Second, 80).Gather(context.Background(), urls, 2)

	assert.Len(t, docs, 2)
	assert.Equal(t, Result{Fetched: 2, Failed: 1, Skipped: 1}, res)
	assert.Equal(t, int32(1), hits.Load())
	for _, d := range docs {
		assert.LessOrEqual(t, len(d.Text), 80)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := "Plzeň vyhrála"
	out := truncate(s, 5)
	assert.Equal(t, "Plze", out)
	assert.True(t, strings.HasPrefix(s, out))
	assert.Equal(t, s, truncate(s, 100))
	assert.Equal(t, s, truncate(s, len(s)))
	assert.Equal(t, "", truncate(s, 0))
}

func TestFetchEmptyBodyHasNoDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer srv.Close()

	doc, err := New(time.Second, 0).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Nil(t, doc)
}
