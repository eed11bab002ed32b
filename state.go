package srpc

// Role 表示 Endpoint 的角色，由 Init 决定
type Role uint8

const (
	RoleNone Role = iota
	RoleClient
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "none"
	}
}

// State 是 Endpoint 和 Session 的状态
//
//	UNINITIALIZED -> INITIALIZED -> (CONNECTING|LISTENING) -> HANDSHAKING -> ACTIVE -> CLOSING -> CLOSED
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateConnecting
	StateListening
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Turn 表示当前轮到哪一方发送
type Turn uint8

const (
	// 等待客户端发送请求
	TurnClient Turn = iota
	// 等待服务端发送响应
	TurnServer
)

func (t Turn) String() string {
	if t == TurnServer {
		return "server"
	}
	return "client"
}
