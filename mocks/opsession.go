// Package mocks provides testify/mock doubles for the interfaces in the
// client package, for use in tests that exercise request-building logic
// without a live transport.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/netconf-go/netconf/common"
)

// OpSession is a mock implementation of client.Session.
type OpSession struct {
	mock.Mock
}

func (m *OpSession) Execute(req common.Request) (*common.RPCReply, error) {
	args := m.Called(req)
	var reply *common.RPCReply
	if r := args.Get(0); r != nil {
		reply = r.(*common.RPCReply)
	}
	return reply, args.Error(1)
}

func (m *OpSession) ExecuteAsync(req common.Request, rchan chan *common.RPCReply) error {
	args := m.Called(req, rchan)
	return args.Error(0)
}

func (m *OpSession) Subscribe(req common.Request, nchan chan *common.Notification) (*common.RPCReply, error) {
	args := m.Called(req, nchan)
	var reply *common.RPCReply
	if r := args.Get(0); r != nil {
		reply = r.(*common.RPCReply)
	}
	return reply, args.Error(1)
}

func (m *OpSession) Close() {
	m.Called()
}

func (m *OpSession) ID() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}

func (m *OpSession) ServerCapabilities() []string {
	args := m.Called()
	if r := args.Get(0); r != nil {
		return r.([]string)
	}
	return nil
}

func (m *OpSession) Status() common.Status {
	args := m.Called()
	if r := args.Get(0); r != nil {
		return r.(common.Status)
	}
	return common.StatusRunning
}

func (m *OpSession) TerminationReason() common.TerminationReason {
	args := m.Called()
	if r := args.Get(0); r != nil {
		return r.(common.TerminationReason)
	}
	return common.ReasonNone
}
