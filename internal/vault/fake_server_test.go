package vault

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeVault is a minimal Vault HTTP API for tests.
type fakeVault struct {
	mu sync.Mutex

	kvVersion string
	tokenTTL  int
	leaseTTL  int
	token     string

	forbidNext bool

	logins       int
	lookups      int
	mountLookups int
	credReads    int
	revoked      []string
}

func newFakeVault(t *testing.T, kvVersion string) (*fakeVault, *httptest.Server) {
	t.Helper()
	f := &fakeVault{kvVersion: kvVersion, tokenTTL: 3600, leaseTTL: 300}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func vaultErrors(msgs ...string) map[string]interface{} {
	return map[string]interface{}{"errors": msgs}
}

func (f *fakeVault) counts() (logins, mountLookups, credReads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.mountLookups, f.credReads
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	isList := r.Method == "LIST" || r.URL.Query().Get("list") == "true"

	if path == "/v1/sys/health" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"initialized": true,
			"sealed":      false,
			"standby":     false,
			"version":     "1.15.2",
		})
		return
	}

	if path == "/v1/auth/approle/login" && r.Method == http.MethodPut || path == "/v1/auth/approle/login" && r.Method == http.MethodPost {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["role_id"] != "orders-app" || body["secret_id"] != "good-secret" {
			writeJSON(w, http.StatusBadRequest, vaultErrors("invalid role or secret ID"))
			return
		}
		f.logins++
		f.token = fmt.Sprintf("hvs.token-%d", f.logins)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"auth": map[string]interface{}{
				"client_token":   f.token,
				"lease_duration": f.tokenTTL,
				"renewable":      true,
			},
		})
		return
	}

	if r.Header.Get("X-Vault-Token") == "" || r.Header.Get("X-Vault-Token") != f.token {
		writeJSON(w, http.StatusForbidden, vaultErrors("permission denied"))
		return
	}

	switch {
	case path == "/v1/auth/token/lookup-self":
		f.lookups++
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"id": f.token, "ttl": f.tokenTTL},
		})

	case strings.HasPrefix(path, "/v1/database/creds/"):
		f.credReads++
		if f.forbidNext {
			f.forbidNext = false
			writeJSON(w, http.StatusForbidden, vaultErrors("permission denied"))
			return
		}
		role := strings.TrimPrefix(path, "/v1/database/creds/")
		lease := f.leaseTTL
		switch role {
		case "orders-rw":
		case "no-lease":
			lease = 0
		default:
			writeJSON(w, http.StatusBadRequest, vaultErrors("unknown role: "+role))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lease_id":       fmt.Sprintf("database/creds/%s/lease-%d", role, f.credReads),
			"lease_duration": lease,
			"renewable":      true,
			"data": map[string]interface{}{
				"username": fmt.Sprintf("v-approle-%s-%d", role, f.credReads),
				"password": "A1a-generated",
			},
		})

	case path == "/v1/database/static-creds/app":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"username":            "app",
				"password":            "rotated-pw",
				"last_vault_rotation": "2024-03-01T09:00:00.123456Z",
				"rotation_period":     86400,
				"ttl":                 3600,
			},
		})

	case strings.HasPrefix(path, "/v1/database/static-creds/"):
		writeJSON(w, http.StatusNotFound, vaultErrors())

	case path == "/v1/sys/internal/ui/mounts/secret":
		f.mountLookups++
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"type":    "kv",
				"path":    "secret/",
				"options": map[string]interface{}{"version": f.kvVersion},
			},
		})

	case path == "/v1/secret/metadata/" && isList, path == "/v1/secret/" && isList:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"keys": []string{"app", "db/"}},
		})

	case path == "/v1/secret/data/app":
		version := r.URL.Query().Get("version")
		if version == "" {
			version = "3"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{"api_key": "key-v" + version},
				"metadata": map[string]interface{}{
					"created_time":  "2024-01-01T00:00:00Z",
					"deletion_time": "",
					"destroyed":     false,
					"version":       json.Number(version),
				},
			},
		})

	case path == "/v1/secret/app":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"api_key": "v1-key"},
		})

	case path == "/v1/sys/leases/revoke":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.revoked = append(f.revoked, body["lease_id"])
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSON(w, http.StatusNotFound, vaultErrors())
	}
}
