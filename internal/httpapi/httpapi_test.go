package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outrigger/internal/assign"
	"outrigger/internal/controller"
	"outrigger/internal/election"
	"outrigger/internal/health"
	"outrigger/internal/platform"
	"outrigger/internal/store"
)

// fakeNeighborhood satisfies every peer-facing interface the controller,
// election, and httpapi packages need, backed by fixed in-memory tables.
type fakeNeighborhood struct {
	self   string
	live   []string
	dead   []string
	status map[string]bool
}

func (f *fakeNeighborhood) LivePeers() []string                        { return f.live }
func (f *fakeNeighborhood) DeadPeers() []string                        { return f.dead }
func (f *fakeNeighborhood) StatusUp(peer string) bool                  { return f.status[peer] }
func (f *fakeNeighborhood) PeerValue(peer, key string) (string, bool) { return "", false }
func (f *fakeNeighborhood) HealthScore() int                           { return 0 }
func (f *fakeNeighborhood) Self() string                               { return f.self }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	peers := &fakeNeighborhood{self: "self:1", status: map[string]bool{}}
	s := store.New("self:1")
	tracker := health.NewTracker(nil, func(up bool) {})
	tracker.SetAdministrative(true)
	tracker.ForceConnectivity(true)

	var ctrl *controller.Controller
	e := election.New("self:1", 0, time.Hour, peers, func(k, v string) {}, func(isLeader bool, leader string) {
		ctrl.LeaderElected(isLeader, leader)
	})
	driver := assign.NewDriver(s)
	ctrl = controller.New("self:1", s, e, driver, platform.NewNullShim(), peers, tracker, nil)
	e.Start()
	e.Tick() // singleton cluster: self elects itself leader deterministically

	return New(s, ctrl, e, peers, tracker, nil), s
}

func TestGetInfoReportsSelfAndPeers(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/info")
	if err != nil {
		t.Fatalf("GET /info: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var got infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	self, ok := got.Neighborhood["self:1"]
	if !ok || !self.Alive || self.Status != "up" {
		t.Fatalf("got neighborhood[self:1] = %+v", self)
	}
	if got.Connectivity != "up" {
		t.Fatalf("got connectivity %q, want up", got.Connectivity)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/status", "text/plain", strings.NewReader("down"))
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /status got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	if got := string(body[:n]); got != "down" {
		t.Fatalf("GET /status = %q, want down", got)
	}
}

func TestPostStatusRejectsInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/status", "text/plain", strings.NewReader("sideways"))
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
}

func TestResourceLifecycle(t *testing.T) {
	srv, s := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/resource", "text/plain", strings.NewReader("eth0:10.0.0.5"))
	if err != nil {
		t.Fatalf("POST /resource: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got %d, want 201", resp.StatusCode)
	}
	var created createResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.RID == "" {
		t.Fatal("expected a non-empty rid")
	}

	if _, ok := s.Get("resource:" + created.RID); !ok {
		t.Fatal("expected resource to land in the store")
	}

	listResp, err := http.Get(ts.URL + "/resource")
	if err != nil {
		t.Fatalf("GET /resource: %v", err)
	}
	defer listResp.Body.Close()
	var listed map[string]resourceEntry
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if entry, ok := listed[created.RID]; !ok || entry.Resource != "eth0:10.0.0.5" {
		t.Fatalf("got listed[%s] = %+v", created.RID, entry)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/resource/"+created.RID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /resource/%s: %v", created.RID, err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("got %d, want 204", delResp.StatusCode)
	}
}

func TestDeleteUnknownResourceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/resource/ghost", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
}

func TestCreateResourceRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/resource", "text/plain", strings.NewReader("not-a-resource"))
	if err != nil {
		t.Fatalf("POST /resource: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
}
