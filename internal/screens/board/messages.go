package board

import "github.com/abhisek/crosstask/internal/chat"

// refreshTickMsg re-reads the machine so clocks and countdowns move
// between state changes. Ticks from a replaced board are dropped.
type refreshTickMsg struct {
	owner *BoardScreen
}

// chatReplyMsg carries a finished assistant call.
type chatReplyMsg struct {
	Result chat.Result
}
