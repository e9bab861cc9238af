package driver

// SessionState 会话状态枚举
type SessionState int

const (
	// StateClosed 已关闭：传输未打开
	StateClosed SessionState = iota
	// StateOpening 打开中：传输已建立，正在执行 on-open
	StateOpening
	// StateOpen 已打开：可以执行命令
	StateOpen
	// StateClosing 关闭中：正在执行 on-close 并断开传输
	StateClosing
)

// String 返回会话状态的字符串表示
func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// CanTransition 检查是否可以从当前状态转换到目标状态
func CanTransition(current, target SessionState) bool {
	switch current {
	case StateClosed:
		return target == StateOpening
	case StateOpening:
		// on-open 失败时直接回到已关闭
		return target == StateOpen || target == StateClosed
	case StateOpen:
		return target == StateClosing
	case StateClosing:
		return target == StateClosed
	default:
		return false
	}
}

// ValidTransitions 获取当前状态的有效转换目标状态列表
func ValidTransitions(current SessionState) []SessionState {
	var valid []SessionState
	for target := StateClosed; target <= StateClosing; target++ {
		if CanTransition(current, target) {
			valid = append(valid, target)
		}
	}
	return valid
}
