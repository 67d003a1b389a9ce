package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"live-session/internal/domain"
)

func TestAuthorizeHostOnlyActions(t *testing.T) {
	session := &domain.Session{ID: "s-1", HostID: 7}
	hostOnly := []domain.Action{
		domain.ActionManageSession,
		domain.ActionInvite,
		domain.ActionApproveJoin,
		domain.ActionManagePeers,
	}
	for _, action := range hostOnly {
		t.Run(string(action), func(t *testing.T) {
			assert.NoError(t, authorize(session, 7, action))
			assert.ErrorIs(t, authorize(session, 8, action), ErrForbidden)
		})
	}
}

func TestAuthorizeFollowsHostTransfer(t *testing.T) {
	session := &domain.Session{ID: "s-1", HostID: 7}
	session.HostID = 8

	assert.ErrorIs(t, authorize(session, 7, domain.ActionManageSession), ErrForbidden)
	assert.NoError(t, authorize(session, 8, domain.ActionManageSession))
}
