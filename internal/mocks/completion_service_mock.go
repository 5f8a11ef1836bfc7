package mocks

import (
	"context"

	"github.com/60fov/ai-fable/internal/service"
	"github.com/stretchr/testify/mock"
)

// MockCompletionService is a mock type for the CompletionService type
type MockCompletionService struct {
	mock.Mock
}

// CreateCompletion provides a mock function with given fields: ctx, req
func (_m *MockCompletionService) CreateCompletion(ctx context.Context, req service.CompletionRequest) (service.CompletionResponse, error) {
	ret := _m.Called(ctx, req)

	var r0 service.CompletionResponse
	if rf, ok := ret.Get(0).(func(context.Context, service.CompletionRequest) service.CompletionResponse); ok {
		r0 = rf(ctx, req)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(service.CompletionResponse)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, service.CompletionRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockCompletionService creates a new instance of MockCompletionService. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockCompletionService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCompletionService {
	m := &MockCompletionService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ service.CompletionService = (*MockCompletionService)(nil)
