package call

// State 通话连接状态
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateActive          State = "active"
	StateError           State = "error"
	StateNeedsCredential State = "needsCredential"
)

// Busy 是否有连接尝试正占用设备
func (s State) Busy() bool {
	return s == StateConnecting || s == StateActive
}

// StateChange 每次状态变化时通知观察者
type StateChange struct {
	State State
	Err   error
}
