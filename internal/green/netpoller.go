package green

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/pylift/pylift/internal/config"
)

// Netpoller drives pending frames forward without blocking an OS thread on
// any one of them. It is stateless: all per-frame state lives in the frames
// passed to each call.
type Netpoller struct{}

// Tick polls every still-pending frame in the list once and returns how many
// remain pending.
func (Netpoller) Tick(frames []*Frame) int {
	pending := 0
	for _, f := range frames {
		if f.Poll() == Pending {
			pending++
		}
	}
	return pending
}

// Drive polls a single frame to completion and unwraps its result. Between
// passes it yields and sleeps briefly so a pending frame does not peg a
// core; the loop itself performs no other blocking work.
func (np Netpoller) Drive(f *Frame) (any, error) {
	passes := 0
	for f.Poll() == Pending {
		passes++
		runtime.Gosched()
		time.Sleep(config.NetpollInterval)
	}
	if passes > 0 {
		Logger().Debug("netpoller drive finished",
			zap.Int("passes", passes),
			zap.String("status", f.Status().String()))
	}
	return f.Result()
}

// DriveAll polls a frame list until every frame has completed.
func (np Netpoller) DriveAll(frames []*Frame) {
	for np.Tick(frames) > 0 {
		runtime.Gosched()
		time.Sleep(config.NetpollInterval)
	}
}
