package sink

import (
	"context"
	"fmt"
	"time"
)

// graceRequest starts or cancels the missed_dispatch grace timer for a cmd_uuid.
type graceRequest struct {
	cmdUUID string
	cancel  bool
}

const missedDispatchGrace = 10 * time.Second

// MissedDispatch starts a grace period for cmdUUID. If no
// Status arrives for cmdUUID before the grace period elapses, the sink
// synthesizes exit_status(cmd_uuid, 255, false) with no corresponding output
// rows.
func (s *Sink) MissedDispatch(cmdUUID string) {
	select {
	case s.graceTimers <- graceRequest{cmdUUID: cmdUUID}:
	case <-s.done:
	}
}

func (s *Sink) cancelGrace(cmdUUID string) {
	select {
	case s.graceTimers <- graceRequest{cmdUUID: cmdUUID, cancel: true}:
	case <-s.done:
	default:
		// best effort: if the channel is full the timer will still see the
		// status row already committed and skip the synthetic insert.
	}
}

// runGraceLoop owns all in-flight grace timers on a single goroutine so the
// timer map itself never needs a mutex.
func (s *Sink) runGraceLoop() {
	pending := map[string]*time.Timer{}
	fired := make(chan string, 256)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.graceTimers:
			if existing, ok := pending[req.cmdUUID]; ok {
				existing.Stop()
				delete(pending, req.cmdUUID)
			}
			if req.cancel {
				continue
			}
			cmdUUID := req.cmdUUID
			pending[cmdUUID] = time.AfterFunc(missedDispatchGrace, func() {
				select {
				case fired <- cmdUUID:
				case <-s.done:
				}
			})
		case cmdUUID := <-fired:
			delete(pending, cmdUUID)
			s.synthesizeMissed(cmdUUID)
		}
	}
}

func (s *Sink) synthesizeMissed(cmdUUID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// If a Status has since landed, AppendStatus's ON CONFLICT leaves the
	// real row untouched only if we check first; a blind insert-or-replace
	// here could clobber a genuine late status, so check before writing.
	var exists int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.statusTable+" WHERE cmd_uuid = ?", cmdUUID)
	if err := row.Scan(&exists); err != nil || exists > 0 {
		return
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (cmd_uuid, exit_code, success) VALUES (?, 255, 0)
			ON CONFLICT(cmd_uuid) DO NOTHING`, s.statusTable),
		cmdUUID)
	if err != nil {
		s.log.Printf("[sink] failed to record missed dispatch for cmd %s: %v", cmdUUID, err)
	}
}
