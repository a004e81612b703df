package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/inference"
	"github.com/sakif/imagine/internal/model"
)

// =========================================================================
// MOCK DEPENDENCIES
// =========================================================================
//
// WHAT IS A MOCK?
// A fake implementation of an interface that keeps its data in memory.
// The services only see the interfaces, so they cannot tell the difference.
//
// Each mock has optional error fields. Setting one makes the matching
// method fail, which is how tests reach the failure branches without a
// broken database.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockLedger implements repository.ProfileRepository.
// The mutex makes Debit a real check-and-set, like the SQL version.
type mockLedger struct {
	mu        sync.Mutex
	credits   map[string]int
	debitErr  error
	creditErr error
	grantErr  error
	// creditRespectsCtx makes Credit fail on a cancelled context, the way a
	// real driver would.
	creditRespectsCtx bool
	refunds           int
}

func newMockLedger() *mockLedger {
	return &mockLedger{credits: make(map[string]int)}
}

func (m *mockLedger) balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[userID]
}

func (m *mockLedger) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.credits[userID]
	if !ok {
		return nil, apperror.NotFound("profile", userID)
	}
	return &model.Profile{ID: userID, Credits: n}, nil
}

func (m *mockLedger) Debit(_ context.Context, userID string, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debitErr != nil {
		return false, m.debitErr
	}
	n, ok := m.credits[userID]
	if !ok || n < amount {
		return false, nil
	}
	m.credits[userID] = n - amount
	return true, nil
}

func (m *mockLedger) Credit(ctx context.Context, userID string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditErr != nil {
		return m.creditErr
	}
	if m.creditRespectsCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := m.credits[userID]; !ok {
		return apperror.NotFound("profile", userID)
	}
	m.credits[userID] += amount
	m.refunds++
	return nil
}

func (m *mockLedger) Grant(_ context.Context, userID, email string, amount int) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantErr != nil {
		return nil, m.grantErr
	}
	m.credits[userID] += amount
	return &model.Profile{ID: userID, Email: email, Credits: m.credits[userID]}, nil
}

// mockGenerations implements repository.GenerationRepository.
type mockGenerations struct {
	mu          sync.Mutex
	gens        map[string]*model.Generation
	images      []model.Image
	nextID      int
	createErr   error
	completeErr error
	failErr     error
	now         time.Time
}

func newMockGenerations() *mockGenerations {
	return &mockGenerations{
		gens: make(map[string]*model.Generation),
		now:  time.Now(),
	}
}

func (m *mockGenerations) CreateGeneration(_ context.Context, gen *model.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	gen.ID = fmt.Sprintf("gen-%d", m.nextID)
	gen.CreatedAt = m.now
	stored := *gen
	m.gens[gen.ID] = &stored
	return nil
}

func (m *mockGenerations) GetGeneration(_ context.Context, id string) (*model.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gens[id]
	if !ok {
		return nil, apperror.NotFound("generation", id)
	}
	result := *g
	return &result, nil
}

func (m *mockGenerations) CompleteGeneration(_ context.Context, id string, images []model.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	g, ok := m.gens[id]
	if !ok || g.Status != model.GenerationPending {
		return apperror.Conflict("pending generation", id)
	}
	g.Status = model.GenerationCompleted
	for _, img := range images {
		img.GenerationID = id
		m.images = append(m.images, img)
	}
	return nil
}

func (m *mockGenerations) FailGeneration(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	g, ok := m.gens[id]
	if !ok || g.Status != model.GenerationPending {
		return apperror.Conflict("pending generation", id)
	}
	g.Status = model.GenerationFailed
	g.Error = message
	return nil
}

func (m *mockGenerations) ListStaleGenerations(_ context.Context, before time.Time) ([]model.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Generation
	for _, g := range m.gens {
		if g.Status == model.GenerationPending && g.CreatedAt.Before(before) {
			out = append(out, *g)
		}
	}
	return out, nil
}

// only returns the single stored generation; tests that use it make one.
func (m *mockGenerations) only() *model.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.gens {
		result := *g
		return &result
	}
	return nil
}

// fakeGenerator implements inference.Generator with a swappable function.
type fakeGenerator struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req inference.Request) ([]string, error)
	calls []inference.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req inference.Request) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func returnsURLs(urls ...string) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, inference.Request) ([]string, error) {
		return urls, nil
	}}
}

func returnsError(err error) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, inference.Request) ([]string, error) {
		return nil, err
	}}
}

// spyCache implements cache.CreditCache and records what happened to it.
type spyCache struct {
	mu          sync.Mutex
	values      map[string]int
	getErr      error
	invalidated []string
}

func newSpyCache() *spyCache {
	return &spyCache{values: make(map[string]int)}
}

func (c *spyCache) Get(_ context.Context, userID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, false, c.getErr
	}
	n, ok := c.values[userID]
	return n, ok, nil
}

func (c *spyCache) Set(_ context.Context, userID string, credits int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[userID] = credits
	return nil
}

func (c *spyCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

// mockImages implements repository.ImageRepository.
type mockImages struct {
	images    map[string]model.ImageDetail
	owners    map[string]string
	listErr   error
	deleteErr error
}

func newMockImages() *mockImages {
	return &mockImages{
		images: make(map[string]model.ImageDetail),
		owners: make(map[string]string),
	}
}

func (m *mockImages) add(userID string, img model.ImageDetail) {
	m.images[img.ID] = img
	m.owners[img.ID] = userID
}

func (m *mockImages) ListImages(_ context.Context, userID string) ([]model.ImageDetail, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.ImageDetail
	for id, img := range m.images {
		if m.owners[id] == userID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (m *mockImages) GetImage(_ context.Context, userID, imageID string) (*model.ImageDetail, error) {
	img, ok := m.images[imageID]
	if !ok || m.owners[imageID] != userID {
		return nil, apperror.NotFound("image", imageID)
	}
	return &img, nil
}

func (m *mockImages) DeleteImage(_ context.Context, userID, imageID string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	if _, ok := m.images[imageID]; !ok || m.owners[imageID] != userID {
		return 0, nil
	}
	delete(m.images, imageID)
	delete(m.owners, imageID)
	return 1, nil
}
