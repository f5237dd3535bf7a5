package raft

// FSM is the application state machine that consumes committed entries.
// Its semantics are explicitly out of scope for this module; Apply is
// invoked for a user entry once commitIndex has reached that entry's index.
type FSM interface {
	Apply(data []byte) error
}

func (r *Raft) runFSM() {
	for {
		select {
		case u := <-r.fsmUpdateCh:
			if err := r.fsm.Apply(u.cmd); err != nil {
				r.logger.Printf("fsm apply failed for cmd of %d bytes: %v", len(u.cmd), err)
			}
		case <-r.shutdownCh:
			return
		}
	}
}

type fsmUpdate struct {
	cmd []byte
}

// Task represents an Apply that has been submitted to the cluster. Error
// blocks until the entry has been committed (or the attempt failed).
type Task interface {
	Error() error
}

type logTask struct {
	entry *Entry
	errCh chan error
	once  bool
}

func newLogTask(entry *Entry) *logTask {
	return &logTask{entry: entry, errCh: make(chan error, 1)}
}

func (t *logTask) Error() error {
	return <-t.errCh
}

func (t *logTask) respond(err error) {
	if t.once {
		return
	}
	t.once = true
	t.errCh <- err
}
