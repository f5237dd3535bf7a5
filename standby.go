package raft

// standby is the pre-start quiescent role: it participates in no
// elections and accepts no Apply calls. A node leaves it only through
// Start's manual transition or, if one is ever delivered before Start is
// called, a legitimate inbound RPC that drives setRole directly.
type standby struct {
	*Raft
}

func (s *standby) tag() RoleTag { return RoleStandby }

func (s *standby) runState() {
	for s.getRole() == RoleStandby {
		select {
		case <-s.stateCh:
		case <-s.shutdownCh:
			return
		}
	}
}
