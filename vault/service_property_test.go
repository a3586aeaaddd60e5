package vault

import (
	"context"
	"testing"

	"github.com/BaSui01/agentflow/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_VaultRoundTrip checks that Put followed by GetByID returns the
// same content and tags regardless of their generated values.
func TestProperty_VaultRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("stored content and tags survive Put/GetByID", prop.ForAll(
		func(content string, tag string) bool {
			s := newPropertyTestService(t)

			entry, err := s.Put(context.Background(), StoreInput{
				WorkspaceID: "ws-property",
				Content:     content,
				Tags:        []string{tag},
			})
			if err != nil {
				return false
			}

			got, err := s.GetByID(context.Background(), entry.ID)
			if err != nil || got == nil {
				return false
			}
			return got.Content == content && len(got.Tags) == 1 && got.Tags[0] == tag
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestProperty_VaultScopeIsolation checks that a search in one workspace never
// surfaces an entry stored under a different workspace, even when the content
// matches.
func TestProperty_VaultScopeIsolation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("search never crosses workspace boundaries", prop.ForAll(
		func(content string) bool {
			if content == "" {
				return true
			}
			s := newPropertyTestService(t)

			if _, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-a", Content: content}); err != nil {
				return false
			}
			if _, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-b", Content: content}); err != nil {
				return false
			}

			results, err := s.SearchWorkspace(context.Background(), "ws-a", content, 10)
			if err != nil {
				return false
			}
			for _, r := range results {
				if r.WorkspaceID != types.WorkspaceID("ws-a") {
					return false
				}
			}
			return len(results) == 1
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func newPropertyTestService(t *testing.T) *Service {
	t.Helper()
	db := setupTestDB(t)
	s, err := New(context.Background(), db, testMasterKey())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}
