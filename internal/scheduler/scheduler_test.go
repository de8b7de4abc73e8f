package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/bizledger/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLister struct {
	BusinessesFunc func(ctx context.Context) ([]string, error)
}

func (m *MockLister) BusinessesWithUnprocessed(ctx context.Context) ([]string, error) {
	return m.BusinessesFunc(ctx)
}

type MockPublisher struct {
	published []*jobs.AutoReconcileJob
	err       error
}

func (m *MockPublisher) PublishAutoReconcile(ctx context.Context, job *jobs.AutoReconcileJob) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func TestTick_QueuesOneJobPerBusiness(t *testing.T) {
	lister := &MockLister{BusinessesFunc: func(ctx context.Context) ([]string, error) {
		return []string{"biz-1", "biz-2"}, nil
	}}
	pub := &MockPublisher{}

	s, err := New("*/30 * * * *", "UTC", lister, pub, zerolog.Nop())
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.published, 2)
	assert.Equal(t, "biz-1", pub.published[0].BusinessID)
	assert.Equal(t, "schedule", pub.published[1].Trigger)
}

func TestTick_PublishError(t *testing.T) {
	lister := &MockLister{BusinessesFunc: func(ctx context.Context) ([]string, error) {
		return []string{"biz-1"}, nil
	}}
	s, err := New("@hourly", "UTC", lister, &MockPublisher{err: errors.New("queue is closed")}, zerolog.Nop())
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestNew_RejectsBadInput(t *testing.T) {
	lister := &MockLister{}
	pub := &MockPublisher{}

	_, err := New("every five minutes", "UTC", lister, pub, zerolog.Nop())
	assert.Error(t, err)

	_, err = New("@hourly", "Nowhere/City", lister, pub, zerolog.Nop())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New("@daily", "Europe/London", &MockLister{}, &MockPublisher{}, zerolog.Nop())
	require.NoError(t, err)
	s.Start()
	<-s.Stop().Done()
}
