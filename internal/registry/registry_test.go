package registry

import (
	"errors"
	"sync"
	"testing"

	"foreman/internal/model"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New([]model.Role{
		{ID: "engineer", MaxConcurrent: 1, Capabilities: []string{"code"}},
		{ID: "qa", MaxConcurrent: 1, Capabilities: []string{"test"}},
		{ID: "docs", MaxConcurrent: 2, Capabilities: []string{"document"}},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestResolve(t *testing.T) {
	r := testRegistry(t)
	role, err := r.Resolve("engineer")
	if err != nil {
		t.Fatalf("resolve engineer: %v", err)
	}
	if role.ID != "engineer" {
		t.Fatalf("expected engineer, got %s", role.ID)
	}

	_, err = r.Resolve("ghost")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSingletonReservation(t *testing.T) {
	r := testRegistry(t)

	release, err := r.Reserve("engineer")
	if err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if r.ActiveInstances("engineer") != 1 {
		t.Fatalf("expected 1 active instance, got %d", r.ActiveInstances("engineer"))
	}

	_, err = r.Reserve("engineer")
	var capacity *CapacityExceededError
	if !errors.As(err, &capacity) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}

	release()
	if r.ActiveInstances("engineer") != 0 {
		t.Fatalf("expected slot released, got %d active", r.ActiveInstances("engineer"))
	}
	if _, err := r.Reserve("engineer"); err != nil {
		t.Fatalf("expected reservation after release: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := testRegistry(t)
	release, err := r.Reserve("qa")
	if err != nil {
		t.Fatalf("reserve qa: %v", err)
	}
	release()
	release()
	if r.ActiveInstances("qa") != 0 {
		t.Fatalf("expected double release to not go negative, got %d", r.ActiveInstances("qa"))
	}
}

func TestConcurrentReservationsNeverExceedCapacity(t *testing.T) {
	r := testRegistry(t)

	const attempts = 64
	var wg sync.WaitGroup
	wins := make(chan func(), attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := r.Reserve("engineer"); err == nil {
				wins <- release
			}
		}()
	}
	wg.Wait()
	close(wins)

	var releases []func()
	for release := range wins {
		releases = append(releases, release)
	}
	if len(releases) != 1 {
		t.Fatalf("expected exactly one winning reservation, got %d", len(releases))
	}
	releases[0]()
}

func TestMultiInstanceRole(t *testing.T) {
	r := testRegistry(t)
	releaseA, err := r.Reserve("docs")
	if err != nil {
		t.Fatalf("first docs reservation: %v", err)
	}
	releaseB, err := r.Reserve("docs")
	if err != nil {
		t.Fatalf("second docs reservation: %v", err)
	}
	if _, err := r.Reserve("docs"); err == nil {
		t.Fatalf("expected third docs reservation to fail")
	}
	releaseA()
	releaseB()
}

func TestWithCapability(t *testing.T) {
	r := testRegistry(t)
	ids := r.WithCapability("code")
	if len(ids) != 1 || ids[0] != "engineer" {
		t.Fatalf("expected [engineer], got %v", ids)
	}
	if len(r.WithCapability("deploy")) != 0 {
		t.Fatalf("expected no roles for deploy capability")
	}
}
