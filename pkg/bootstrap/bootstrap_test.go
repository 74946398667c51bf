package bootstrap

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amirimatin/go-consensus/pkg/config"
	"github.com/amirimatin/go-consensus/pkg/engine"
)

func buildTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = "memory"
	n, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return n
}

func TestBuildWiresMemoryNode(t *testing.T) {
	n := buildTestNode(t)
	if n.Engine == nil || n.KV == nil {
		t.Fatal("expected engine and kv to be wired")
	}
	st := n.Engine.Status()
	if st.NodeID != "node-1" {
		t.Fatalf("node id = %s", st.NodeID)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Node.BindAddr = ""
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func TestBuildRejectsBadTLS(t *testing.T) {
	cfg := config.Default()
	cfg.Node.DataDir = "memory"
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = "/nonexistent/cert.pem"
	cfg.TLS.KeyFile = "/nonexistent/key.pem"
	cfg.TLS.CAFile = "/nonexistent/ca.pem"
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected missing CA file to fail")
	}
}

func TestAdminStatusEndpoint(t *testing.T) {
	n := buildTestNode(t)
	mux := http.NewServeMux()
	n.registerAdmin(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	var st engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.NodeID != "node-1" {
		t.Fatalf("status node id = %s", st.NodeID)
	}
}

func TestAdminProposeRejectsWhenNotLeader(t *testing.T) {
	n := buildTestNode(t)
	mux := http.NewServeMux()
	n.registerAdmin(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/propose", "application/octet-stream", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("POST /propose: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("expected proposal on a stopped node to fail")
	}
}

func TestAdminProposeRejectsEmptyBody(t *testing.T) {
	n := buildTestNode(t)
	mux := http.NewServeMux()
	n.registerAdmin(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/propose", "application/octet-stream", strings.NewReader(""))
	if err != nil {
		t.Fatalf("POST /propose: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", resp.StatusCode)
	}
}
