package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/doki/backend/internal/model/persona"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)
	return r
}

func TestListPersonas(t *testing.T) {
	rr := httptest.NewRecorder()
	setupRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 personas, got %d", len(got))
	}
	if _, leaked := got[0]["promptTemplate"]; leaked {
		t.Fatal("prompt template must not be exposed")
	}
}

func TestGetPersona(t *testing.T) {
	tests := []struct {
		id   string
		code int
	}{
		{"anton", http.StatusOK},
		{"nobody", http.StatusNotFound},
	}

	for _, tt := range tests {
		rr := httptest.NewRecorder()
		setupRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/personas/"+tt.id, nil))
		if rr.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.id, tt.code, rr.Code)
		}
	}
}
