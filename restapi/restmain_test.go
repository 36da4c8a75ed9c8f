package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/strata/inmemory"
)

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var payload map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Body.String(), "{") {
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s %s: bad JSON response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, payload
}

// Walks the whole surface once: namespace & structure setup, a value write and
// a typed commit pipeline posted as steps.
func TestRestApiEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(inmemory.NewCluster())

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/namespaces", `{"name":"dev"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create namespace: got %d, body %s", w.Code, w.Body.String())
	}

	structureBody := `{
		"name": "productCatalog",
		"schema": {
			"kind": 1,
			"key_schema": {"kind": 0, "primitive": 1},
			"value_schema": {"kind": 2, "fields": [
				{"name": "name", "schema": {"kind": 0, "primitive": 1}},
				{"name": "origin", "schema": {"kind": 0, "primitive": 0}}
			]}
		}
	}`
	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/namespaces/dev/structures", structureBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create structure: got %d, body %s", w.Code, w.Body.String())
	}

	w, _ = doJSON(t, router, http.MethodPut, "/api/v1/namespaces/dev/structures/productCatalog/value",
		`{"value": {"X": {"name": "Acme", "origin": 1}}}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("set value: got %d, body %s", w.Code, w.Body.String())
	}

	commitBody := `{"steps": [{"op":"get","key":"X"},{"op":"some"},{"op":"field","name":"name"}]}`
	w, payload := doJSON(t, router, http.MethodPost, "/api/v1/namespaces/dev/structures/productCatalog/commit", commitBody)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: got %d, body %s", w.Code, w.Body.String())
	}
	if payload["value"] != "Acme" {
		t.Fatalf("commit value: got %#v", payload["value"])
	}

	// An absent key unwrapped with some is a data-level failure, surfaced as
	// unprocessable with the error code in the payload.
	commitBody = `{"steps": [{"op":"get","key":"Z"},{"op":"some"}]}`
	w, payload = doJSON(t, router, http.MethodPost, "/api/v1/namespaces/dev/structures/productCatalog/commit", commitBody)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("absent commit: got %d, body %s", w.Code, w.Body.String())
	}
	if payload["code"] == nil {
		t.Fatalf("absent commit: expected error code in payload, got %s", w.Body.String())
	}

	// A step that can't type-check is rejected before the cluster is touched.
	commitBody = `{"steps": [{"op":"some"}]}`
	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/namespaces/dev/structures/productCatalog/commit", commitBody)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("ill-typed commit: got %d, body %s", w.Code, w.Body.String())
	}

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/namespaces", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list namespaces: got %d", w.Code)
	}

	w, _ = doJSON(t, router, http.MethodDelete, "/api/v1/namespaces/dev/structures/productCatalog", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("drop structure: got %d, body %s", w.Code, w.Body.String())
	}

	w, _ = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/namespaces/%s/structures", "dev"), "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" && strings.TrimSpace(w.Body.String()) != "null" {
		t.Fatalf("list structures after drop: got %d, body %s", w.Code, w.Body.String())
	}
}
