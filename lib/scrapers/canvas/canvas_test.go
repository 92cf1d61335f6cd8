package canvas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/peterfisher/canvas-parent/lib/telemetry"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

const loginPage = `<!DOCTYPE html>
<html>
<head><meta name="csrf-token" content="tok123" /></head>
<body>
<form id="login_form" action="/login/canvas" method="post">
<input name="authenticity_token" type="hidden" value="tok123" />
<input name="pseudonym_session[unique_id]" type="text" />
<input name="pseudonym_session[password]" type="password" />
</form>
</body>
</html>`

const dashboardPage = `<!DOCTYPE html>
<html><body><div id="dashboard">Recent activity</div></body></html>`

type fakePortal struct {
	gradePageHits int
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/canvas", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("POST /login/canvas", func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("authenticity_token") != "tok123" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		if r.PostForm.Get("pseudonym_session[unique_id]") != "parent@example.com" ||
			r.PostForm.Get("pseudonym_session[password]") != "hunter2" {
			http.Redirect(w, r, "/login/canvas", http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "_normandy_session", Value: "abc123", Path: "/"})
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie("_normandy_session")
		if err != nil {
			fmt.Fprint(w, loginPage)
			return
		}
		fmt.Fprint(w, dashboardPage)
	})
	mux.HandleFunc("GET /api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 1001, "name": "AP Biology", "enrollment_state": "active"},
			{"id": 1002, "name": "Geometry", "enrollment_state": "active"},
			{"id": 1003, "name": "", "enrollment_state": "active"},
			{"id": 1004, "name": "Old English", "enrollment_state": "inactive"}
		]`)
	})
	mux.HandleFunc("GET /courses/1001/grades", func(w http.ResponseWriter, r *http.Request) {
		p.gradePageHits++
		fmt.Fprint(w, `<html><body><table id="grades_summary"></table></body></html>`)
	})
	return mux
}

func TestClient(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/canvas")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestClient")
	defer span.End()

	portal := &fakePortal{}
	server := httptest.NewServer(portal.handler())
	defer server.Close()

	cacheDb, err := bbolt.Open(filepath.Join(t.TempDir(), "cache.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cacheDb.Close()
	cache, err := NewPageCache(cacheDb, "parent@example.com")
	if err != nil {
		t.Fatal(err)
	}

	client, err := NewClient(ctx, ClientOptions{
		BaseUrl: server.URL,
		Cache:   cache,
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("TestLoginBadPassword", func(t *testing.T) {
		bad, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		err = bad.Login(ctx, "parent@example.com", "wrong")
		require.ErrorIs(t, err, ErrLoginFailed)
	})

	t.Run("TestLogin", func(t *testing.T) {
		err := client.Login(ctx, "parent@example.com", "hunter2")
		require.NoError(t, err)
	})

	var courses []Course
	t.Run("TestActiveCourses", func(t *testing.T) {
		courses, err = client.ActiveCourses(ctx)
		require.NoError(t, err)
		require.Equal(t, []Course{
			{Id: "1001", Name: "AP Biology"},
			{Id: "1002", Name: "Geometry"},
		}, courses)
	})

	t.Run("TestGradesPage", func(t *testing.T) {
		page, err := client.GradesPage(ctx, courses[0])
		require.NoError(t, err)
		require.Contains(t, page, "grades_summary")
		require.Equal(t, 1, portal.gradePageHits)

		page, err = client.GradesPage(ctx, courses[0])
		require.NoError(t, err)
		require.Contains(t, page, "grades_summary")
		require.Equal(t, 1, portal.gradePageHits, "second fetch should be served from cache")
	})

	t.Run("TestGradesPageStatusError", func(t *testing.T) {
		_, err := client.GradesPage(ctx, Course{Id: "9999", Name: "Ghost"})
		var statusErr StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	})
}
