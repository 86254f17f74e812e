package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// mockPoolRepository is a mock implementation of PoolRepositoryInterface.
type mockPoolRepository struct {
	insertFn        func(ctx context.Context, tx database.TxQuerier, pool *model.Pool) error
	getByIDFn       func(ctx context.Context, id string) (*model.Pool, error)
	listActiveFn    func(ctx context.Context) ([]model.Pool, error)
	updateFn        func(ctx context.Context, id string, name *string, active *bool) error
	deleteFn        func(ctx context.Context, id string) error
	addMembersFn    func(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error
	removeMembersFn func(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error
	membersFn       func(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error)
}

func (m *mockPoolRepository) Insert(ctx context.Context, tx database.TxQuerier, pool *model.Pool) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, tx, pool)
	}
	return nil
}

func (m *mockPoolRepository) GetByID(ctx context.Context, id string) (*model.Pool, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPoolRepository) ListActive(ctx context.Context) ([]model.Pool, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockPoolRepository) Update(ctx context.Context, id string, name *string, active *bool) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, name, active)
	}
	return nil
}

func (m *mockPoolRepository) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockPoolRepository) AddMembers(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
	if m.addMembersFn != nil {
		return m.addMembersFn(ctx, tx, poolID, userIDs)
	}
	return nil
}

func (m *mockPoolRepository) RemoveMembers(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
	if m.removeMembersFn != nil {
		return m.removeMembersFn(ctx, tx, poolID, userIDs)
	}
	return nil
}

func (m *mockPoolRepository) Members(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error) {
	if m.membersFn != nil {
		return m.membersFn(ctx, q, poolID)
	}
	return nil, nil
}

func newPoolService(repo *mockPoolRepository) *PoolService {
	return NewPoolServiceWithTxBeginner(&mockTxBeginner{}, nil, repo)
}

func activePool(id string) *model.Pool {
	return &model.Pool{
		ID:        id,
		Name:      "beta testers",
		CreatedBy: "marketing",
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func TestPoolCreate_WithInitialMembers(t *testing.T) {
	var insertedPool *model.Pool
	var addedMembers []string
	repo := &mockPoolRepository{
		insertFn: func(ctx context.Context, tx database.TxQuerier, pool *model.Pool) error {
			insertedPool = pool
			return nil
		},
		addMembersFn: func(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
			addedMembers = userIDs
			return nil
		},
		membersFn: func(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error) {
			return addedMembers, nil
		},
	}

	svc := newPoolService(repo)
	detail, err := svc.Create(context.Background(), &model.CreatePoolRequest{
		Name:      "beta testers",
		CreatedBy: "marketing",
		UserIDs:   []string{"alice", "bob"},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, insertedPool.ID)
	assert.True(t, insertedPool.Active, "new pools start active")
	assert.Equal(t, []string{"alice", "bob"}, detail.UserIDs)
}

func TestPoolCreate_NoMembersSkipsAdd(t *testing.T) {
	repo := &mockPoolRepository{
		addMembersFn: func(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
			t.Fatal("AddMembers should not run for an empty initial set")
			return nil
		},
	}

	svc := newPoolService(repo)
	detail, err := svc.Create(context.Background(), &model.CreatePoolRequest{
		Name:      "beta testers",
		CreatedBy: "marketing",
	})

	require.NoError(t, err)
	assert.Empty(t, detail.UserIDs)
}

func TestPoolGet_NotFound(t *testing.T) {
	svc := newPoolService(&mockPoolRepository{})

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestPoolGet_IncludesMembershipSnapshot(t *testing.T) {
	repo := &mockPoolRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Pool, error) {
			return activePool(id), nil
		},
		membersFn: func(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error) {
			return []string{"alice", "bob", "carol"}, nil
		},
	}

	svc := newPoolService(repo)
	detail, err := svc.Get(context.Background(), "pool-1")

	require.NoError(t, err)
	assert.Equal(t, "pool-1", detail.ID)
	assert.Equal(t, []string{"alice", "bob", "carol"}, detail.UserIDs)
}

func TestPoolUpdate_NothingToChange(t *testing.T) {
	svc := newPoolService(&mockPoolRepository{})

	_, err := svc.Update(context.Background(), "pool-1", &model.UpdatePoolRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPoolUpdate_Deactivate(t *testing.T) {
	var capturedActive *bool
	repo := &mockPoolRepository{
		updateFn: func(ctx context.Context, id string, name *string, active *bool) error {
			capturedActive = active
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*model.Pool, error) {
			p := activePool(id)
			p.Active = false
			return p, nil
		},
	}

	svc := newPoolService(repo)
	inactive := false
	detail, err := svc.Update(context.Background(), "pool-1", &model.UpdatePoolRequest{Active: &inactive})

	require.NoError(t, err)
	require.NotNil(t, capturedActive)
	assert.False(t, *capturedActive)
	assert.False(t, detail.Active)
}

func TestPoolUpdate_NotFound(t *testing.T) {
	repo := &mockPoolRepository{
		updateFn: func(ctx context.Context, id string, name *string, active *bool) error {
			return ErrPoolNotFound
		},
	}

	svc := newPoolService(repo)
	_, err := svc.Update(context.Background(), "missing", &model.UpdatePoolRequest{Name: strPtr("renamed")})
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestPoolAddUsers_ReturnsUpdatedSnapshot(t *testing.T) {
	var added []string
	repo := &mockPoolRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Pool, error) {
			return activePool(id), nil
		},
		addMembersFn: func(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
			added = userIDs
			return nil
		},
		membersFn: func(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error) {
			return []string{"alice", "bob", "dave"}, nil
		},
	}

	svc := newPoolService(repo)
	detail, err := svc.AddUsers(context.Background(), "pool-1", []string{"dave"})

	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, added)
	assert.Equal(t, []string{"alice", "bob", "dave"}, detail.UserIDs)
}

func TestPoolAddUsers_PoolNotFound(t *testing.T) {
	svc := newPoolService(&mockPoolRepository{})

	_, err := svc.AddUsers(context.Background(), "missing", []string{"dave"})
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestPoolRemoveUsers_ReturnsUpdatedSnapshot(t *testing.T) {
	var removed []string
	repo := &mockPoolRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Pool, error) {
			return activePool(id), nil
		},
		removeMembersFn: func(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
			removed = userIDs
			return nil
		},
		membersFn: func(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error) {
			return []string{"alice"}, nil
		},
	}

	svc := newPoolService(repo)
	detail, err := svc.RemoveUsers(context.Background(), "pool-1", []string{"bob"})

	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, removed)
	assert.Equal(t, []string{"alice"}, detail.UserIDs)
}

func TestPoolDelete_Delegates(t *testing.T) {
	deleted := false
	repo := &mockPoolRepository{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}

	svc := newPoolService(repo)
	require.NoError(t, svc.Delete(context.Background(), "pool-1"))
	assert.True(t, deleted)
}
