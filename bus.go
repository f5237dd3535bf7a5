package raft

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/raftbus/raft/cluster"
)

// retryBackoff is the pause between iterations of the leader-router retry
// loop in spec.md §4.6 step 4.
const retryBackoff = 25 * time.Millisecond

// MessageHandler is an input-channel listener on the Message Bus Overlay.
// IsSignalSupported is consulted in subscription order; the first handler
// that claims a name wins.
type MessageHandler interface {
	IsSignalSupported(name string) bool
	Handle(ctx context.Context, req *CustomRequest) (*CustomResponse, error)
}

// Bus is the Message Bus Overlay: it owns the immutable handler list and
// the leader-routing logic for outbound Custom application messages.
type Bus struct {
	r        *Raft
	handlers *Cell[[]MessageHandler]
}

func newBus(r *Raft) *Bus {
	return &Bus{r: r, handlers: NewCell[[]MessageHandler](nil)}
}

// AddListener publishes a new handler list with h appended, by copy-on-write.
// Readers already iterating the previous list never observe a torn update.
func (b *Bus) AddListener(h MessageHandler) {
	b.handlers.Update(func(old []MessageHandler) []MessageHandler {
		next := make([]MessageHandler, len(old)+1)
		copy(next, old)
		next[len(old)] = h
		return next
	})
}

// RemoveListener publishes a new handler list with h removed.
func (b *Bus) RemoveListener(h MessageHandler) {
	b.handlers.Update(func(old []MessageHandler) []MessageHandler {
		next := make([]MessageHandler, 0, len(old))
		for _, existing := range old {
			if existing != h {
				next = append(next, existing)
			}
		}
		return next
	})
}

// dispatchLocal tries every subscribed handler in order, in the same
// critical path whether the message arrived over the wire or via leader
// loopback.
func (b *Bus) dispatchLocal(ctx context.Context, req *CustomRequest) (*CustomResponse, int) {
	for _, h := range b.handlers.Load() {
		if !h.IsSignalSupported(req.Name) {
			continue
		}
		resp, err := h.Handle(ctx, req)
		if err != nil {
			return nil, 400
		}
		return resp, 200
	}
	return nil, 501
}

// ReceiveCustom is the inbound side the RPC Dispatcher calls for the Custom
// message kind: it enforces RespectLeadership, applies duplicate
// suppression for the two one-way modes, and dispatches to the handler list
// according to the message's DeliveryMode.
func (b *Bus) ReceiveCustom(ctx context.Context, req *CustomRequest) (*CustomResponse, int) {
	r := b.r
	if req.RespectLeadership && r.getRole() != RoleLeader {
		return nil, 503
	}

	switch req.Mode {
	case OneWay, OneWayNoAck:
		if r.dedupe.IsDuplicate(DuplicateKey{SenderID: req.SenderID, MessageID: req.MessageID}) {
			return nil, 204
		}
	}

	switch req.Mode {
	case RequestReply:
		return b.dispatchLocal(ctx, req)
	case OneWay:
		_, status := b.dispatchLocal(ctx, req)
		if status == 501 {
			return nil, 501
		}
		return nil, 204
	case OneWayNoAck:
		// The fast-ack path: respond 204 immediately and run the handler
		// after the response stream has already been released. Failure is
		// logged, never surfaced, per spec.md §4.6.
		go func() {
			if _, status := b.dispatchLocal(context.Background(), req); status != 200 {
				r.logger.Printf("one-way-no-ack handler for %q returned status %d", req.Name, status)
			}
		}()
		return nil, 204
	default:
		return nil, 400
	}
}

// sendCustom is the outbound leader-router loop spec.md §4.6 describes:
// read Leader, dispatch locally or remotely, and retry on MemberUnavailable
// or a retryable status until success or cancellation.
func (b *Bus) sendCustom(ctx context.Context, req *CustomRequest) (*CustomResponse, error) {
	r := b.r
	for {
		select {
		case <-ctx.Done():
			return nil, ErrOperationCanceled
		case <-r.shutdownCh:
			return nil, ErrOperationCanceled
		default:
		}

		leaderID, ok := r.Leader()
		if !ok {
			return nil, ErrLeaderUnavailable
		}

		var resp *CustomResponse
		var status int
		var sendErr error

		if leaderID == r.id {
			resp, status = b.dispatchLocal(ctx, req)
			sendErr = statusToError(status)
		} else {
			member, known := r.registry.TryGet(leaderID)
			if !known {
				sendErr = ErrLeaderUnavailable
			} else {
				resp, sendErr = r.transport.SendCustom(ctx, member, req)
			}
		}

		if sendErr == nil {
			return resp, nil
		}
		if !retryable(sendErr) {
			return nil, sendErr
		}
		if isLeadershipShift(sendErr) {
			r.leaderHint.Store(cluster.Zero)
		}
		r.logger.Printf("leader-router retrying custom send to %s: %v", leaderID, sendErr)

		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return nil, ErrOperationCanceled
		case <-r.shutdownCh:
			return nil, ErrOperationCanceled
		}
	}
}

func statusToError(status int) error {
	switch status {
	case 200, 204:
		return nil
	case 501:
		return ErrNotImplemented
	case 503:
		return &UnexpectedStatus{Code: 503}
	default:
		return &UnexpectedStatus{Code: status}
	}
}

// retryable mirrors spec.md §4.6 step 4: MemberUnavailable, BadRequest,
// ServiceUnavailable, and ErrLeaderUnavailable (a leader hint that is not in
// the registry) drive another loop iteration; everything else surfaces.
func retryable(err error) bool {
	var mu *MemberUnavailable
	if errors.As(err, &mu) {
		return true
	}
	var us *UnexpectedStatus
	if errors.As(err, &us) {
		return us.Code == 400 || us.Code == 503
	}
	return errors.Is(err, ErrLeaderUnavailable)
}

// isLeadershipShift reports whether err indicates the node we contacted no
// longer believes it is leader, which should force a fresh Leader read.
func isLeadershipShift(err error) bool {
	var us *UnexpectedStatus
	return errors.As(err, &us) && us.Code == 503
}

// applyForwardHandler is the internal listener that lets a Follower's
// forwardApply reach the leader's Apply through the same Custom-message
// path application traffic uses, rather than a second private RPC.
type applyForwardHandler struct{ r *Raft }

func (h *applyForwardHandler) IsSignalSupported(name string) bool { return name == "__apply" }

func (h *applyForwardHandler) Handle(ctx context.Context, req *CustomRequest) (*CustomResponse, error) {
	task, err := h.r.Apply(ctx, req.Payload)
	if err != nil {
		return nil, err
	}
	if err := task.Error(); err != nil {
		return nil, err
	}
	return &CustomResponse{}, nil
}

// newMessageID generates a client-supplied-looking, unique-per-sender
// identifier for the stable (senderId, messageId) pair carried across
// leader-router retries.
func newMessageID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
